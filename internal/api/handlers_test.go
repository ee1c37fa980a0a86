package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"photo-style-service/internal/apperr"
	"photo-style-service/internal/config"
	"photo-style-service/internal/provider"
	"photo-style-service/internal/storage"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	result    *provider.Result
	err       error
	calls     int
	lastInput provider.GenerateInput
}

func (f *fakeGenerator) Generate(_ context.Context, input provider.GenerateInput) (*provider.Result, error) {
	f.calls++
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGenerator) Healthcheck(context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 42, nil
}

func newTestRouter(t *testing.T, gen Generator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	storage.InitStore(t.TempDir(), nil)
	GlobalGenerator = gen
	t.Cleanup(func() { GlobalGenerator = nil })
	r := gin.New()
	RegisterRoutes(r)
	return r
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

type generateForm struct {
	fields map[string]string
	image  []byte
}

func postGenerate(t *testing.T, r *gin.Engine, form generateForm, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for key, value := range form.fields {
		require.NoError(t, w.WriteField(key, value))
	}
	if form.image != nil {
		part, err := w.CreateFormFile("image", "upload.png")
		require.NoError(t, err)
		_, err = part.Write(form.image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/generate", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRootHandler(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "active", body["status"])
}

func TestGetStyles(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})

	tests := []struct {
		templateID string
		wantKey    string
		wantCount  int
	}{
		{"retro-remix", "keywords", 4},
		{"funny-toon", "styles", 5},
		{"cover-shoot", "styles", 4},
		{"glitch-pro", "modes", 4},
		{"footy-fan", "styles", 4},
	}
	for _, tt := range tests {
		t.Run(tt.templateID, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/styles/"+tt.templateID, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			body := decodeBody(t, rec)
			names, ok := body[tt.wantKey].([]interface{})
			require.True(t, ok, "expected key %q in %v", tt.wantKey, body)
			assert.Len(t, names, tt.wantCount)
		})
	}
}

func TestGetStylesUnknownTemplate(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/styles/no-such-template", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Template not found", decodeBody(t, rec)["detail"])
}

func TestGenerateRejectsMissingTemplateID(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})
	rec := postGenerate(t, r, generateForm{fields: map[string]string{
		"style_params": `{"keyword": "y2k"}`,
	}}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "template_id is required", decodeBody(t, rec)["detail"])
}

func TestGenerateRejectsMalformedStyleParams(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})

	for _, raw := range []string{"{not json", `["a","b"]`, `{"nested": {"x": 1}}`} {
		rec := postGenerate(t, r, generateForm{fields: map[string]string{
			"template_id":  "retro-remix",
			"style_params": raw,
		}}, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code, "input: %s", raw)
		assert.Equal(t, "Invalid style_params JSON", decodeBody(t, rec)["detail"])
	}
}

func TestGenerateRequiresStyleParams(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})
	rec := postGenerate(t, r, generateForm{fields: map[string]string{
		"template_id": "retro-remix",
	}}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "style_params is required", decodeBody(t, rec)["detail"])
}

func TestGenerateTextToImageHappyPath(t *testing.T) {
	gen := &fakeGenerator{result: &provider.Result{
		Images:    [][]byte{pngBytes(t)},
		ModelUsed: provider.PrimaryModel,
	}}
	r := newTestRouter(t, gen)

	rec := postGenerate(t, r, generateForm{fields: map[string]string{
		"template_id":  "retro-remix",
		"style_params": `{"keyword": "Y2K Chrome"}`,
	}}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "retro-remix", body["template_id"])
	assert.Contains(t, body["prompt"], "Y2K chrome metallic aesthetic")
	filename, _ := body["filename"].(string)
	require.NotEmpty(t, filename)

	// 产物必须真实落盘并可回读
	assert.Equal(t, 1, gen.calls)
	assert.Nil(t, gen.lastInput.Reference)
	assert.Equal(t, "medium", gen.lastInput.Quality)
	assert.Equal(t, "1024x1024", gen.lastInput.Size)

	stored, err := storage.GlobalStore.Fetch(filename)
	require.NoError(t, err)
	assert.Equal(t, gen.result.Images[0], stored)
}

func TestGenerateWithReferenceImage(t *testing.T) {
	gen := &fakeGenerator{result: &provider.Result{
		Images:    [][]byte{pngBytes(t)},
		ModelUsed: provider.PrimaryModel,
	}}
	r := newTestRouter(t, gen)

	rec := postGenerate(t, r, generateForm{
		fields: map[string]string{
			"template_id":  "funny-toon",
			"style_params": `{"style": "Pixar-style 3D character"}`,
			"quality":      "high",
		},
		image: pngBytes(t),
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, gen.lastInput.Reference)
	assert.Equal(t, 8, gen.lastInput.Reference.Width)
	assert.Equal(t, "high", gen.lastInput.Quality)
}

func TestGenerateRejectsUndecodableImage(t *testing.T) {
	gen := &fakeGenerator{}
	r := newTestRouter(t, gen)

	rec := postGenerate(t, r, generateForm{
		fields: map[string]string{
			"template_id":  "funny-toon",
			"style_params": `{"style": "anime"}`,
		},
		image: []byte("definitely not an image"),
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "Error processing image")
	assert.Equal(t, 0, gen.calls)
}

func TestGenerateRejectsTraversalTemplateID(t *testing.T) {
	gen := &fakeGenerator{result: &provider.Result{
		Images:    [][]byte{pngBytes(t)},
		ModelUsed: provider.PrimaryModel,
	}}
	r := newTestRouter(t, gen)

	rec := postGenerate(t, r, generateForm{fields: map[string]string{
		"template_id":  "../escaped",
		"style_params": `{"style": "anime"}`,
	}}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid template_id", decodeBody(t, rec)["detail"])

	// 基础目录的上层不能出现任何写入产物
	parent, err := os.ReadDir(filepath.Dir(storage.GlobalStore.BaseDir))
	require.NoError(t, err)
	for _, entry := range parent {
		assert.NotContains(t, entry.Name(), "escaped")
	}
}

func TestGenerateMapsProviderFailure(t *testing.T) {
	gen := &fakeGenerator{err: apperr.New(apperr.KindGenerationFailed, "AI generation failed: boom")}
	r := newTestRouter(t, gen)

	rec := postGenerate(t, r, generateForm{fields: map[string]string{
		"template_id":  "retro-remix",
		"style_params": `{"keyword": "y2k"}`,
	}}, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "AI generation failed")
}

func TestImageRoundTrip(t *testing.T) {
	gen := &fakeGenerator{result: &provider.Result{
		Images:    [][]byte{pngBytes(t)},
		ModelUsed: provider.PrimaryModel,
	}}
	r := newTestRouter(t, gen)

	rec := postGenerate(t, r, generateForm{fields: map[string]string{
		"template_id":  "glitch-pro",
		"style_params": `{"mode": "vhs-static"}`,
	}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	filename := decodeBody(t, rec)["filename"].(string)

	fetch := httptest.NewRecorder()
	r.ServeHTTP(fetch, httptest.NewRequest(http.MethodGet, "/image/"+filename, nil))
	require.Equal(t, http.StatusOK, fetch.Code)
	assert.Equal(t, "image/png", fetch.Header().Get("Content-Type"))
	assert.Equal(t, gen.result.Images[0], fetch.Body.Bytes())
}

func TestImageNotFound(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image/missing.png", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Image not found", decodeBody(t, rec)["detail"])
}

func TestHealthKeyChecks(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})
	original := config.GlobalConfig.OpenAI.APIKey
	t.Cleanup(func() { config.GlobalConfig.OpenAI.APIKey = original })

	tests := []struct {
		name   string
		apiKey string
	}{
		{"missing", ""},
		{"placeholder", "your-api-key-here"},
		{"placeholder sk", "sk-your-actual-key-here"},
		{"bad prefix", "api-key-without-prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config.GlobalConfig.OpenAI.APIKey = tt.apiKey
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "unhealthy", body["status"])
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["suggestion"])
		})
	}
}

func TestHealthHealthy(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})
	original := config.GlobalConfig.OpenAI.APIKey
	t.Cleanup(func() { config.GlobalConfig.OpenAI.APIKey = original })
	config.GlobalConfig.OpenAI.APIKey = "sk-proj-abcdefghijklmnop1234"

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["openai"])
	assert.Equal(t, "sk-proj-ab...1234", body["api_key_preview"])
	assert.Equal(t, float64(42), body["models_available"])
}

func TestSessionStateRequiresHeader(t *testing.T) {
	r := newTestRouter(t, &fakeGenerator{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session/state", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionStateTracksGeneration(t *testing.T) {
	gen := &fakeGenerator{result: &provider.Result{
		Images:    [][]byte{pngBytes(t)},
		ModelUsed: provider.PrimaryModel,
	}}
	r := newTestRouter(t, gen)

	rec := postGenerate(t, r, generateForm{fields: map[string]string{
		"template_id":  "cover-shoot",
		"style_params": `{"style": "Vogue editorial"}`,
	}}, map[string]string{"X-Session-ID": "sess-track-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	state := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/session/state", nil)
	req.Header.Set("X-Session-ID", "sess-track-1")
	r.ServeHTTP(state, req)

	require.Equal(t, http.StatusOK, state.Code)
	body := decodeBody(t, state)
	debug, _ := body["debug_log"].([]interface{})
	recent, _ := body["recent"].([]interface{})
	assert.NotEmpty(t, debug)
	require.Len(t, recent, 1)
	entry := recent[0].(map[string]interface{})
	assert.Equal(t, "cover-shoot", entry["template_id"])
}
