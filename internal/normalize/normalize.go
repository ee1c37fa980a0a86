package normalize

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"photo-style-service/internal/apperr"
)

// MaxDimension 归一化后长边的像素上限
const MaxDimension = 1024

// SyntheticFilename 以 multipart 方式转发参考图时使用的文件名
const SyntheticFilename = "reference.png"

// Normalized 规范化后的参考图：PNG 编码、长边不超过 MaxDimension、无透明通道
type Normalized struct {
	PNG    []byte
	Width  int
	Height int
}

// DataURL 以内嵌 data-URI 形式返回编码结果
func (n *Normalized) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(n.PNG)
}

// Normalize 解码任意上传图片，拍平透明通道到白底，超限时等比缩放到长边 1024，
// 重新编码为 PNG。输入不可解码时返回 ImageDecode 类错误。
func Normalize(raw []byte) (*Normalized, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindImageDecode, err, "Error processing image")
	}

	img = flatten(img)

	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	if width > MaxDimension || height > MaxDimension {
		newWidth, newHeight := fitWithin(width, height, MaxDimension)
		img = imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)
		width, height = newWidth, newHeight
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return nil, apperr.Wrap(apperr.KindImageDecode, err, "Error processing image")
	}

	return &Normalized{
		PNG:    buf.Bytes(),
		Width:  width,
		Height: height,
	}, nil
}

// flatten 将带透明通道或调色板的图片合成到不透明白底上
func flatten(img image.Image) image.Image {
	bounds := img.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

// fitWithin 长边缩到 max，短边按比例四舍五入（round-half-up）
func fitWithin(width, height, max int) (int, int) {
	if width >= height {
		return max, roundedScale(height, max, width)
	}
	return roundedScale(width, max, height), max
}

func roundedScale(side, max, longer int) int {
	scaled := (side*max + longer/2) / longer
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// Describe 日志用的简短描述
func (n *Normalized) Describe() string {
	return fmt.Sprintf("%dx%d png (%d bytes)", n.Width, n.Height, len(n.PNG))
}
