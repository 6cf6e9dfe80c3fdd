package embedding

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// Helper functions for creating test images

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func TestPrepareImage_NoResizeNeeded(t *testing.T) {
	data := encodePNG(createTestImage(100, 80, color.White))

	prepared, err := PrepareImage(data, 200)
	if err != nil {
		t.Fatalf("PrepareImage failed: %v", err)
	}
	if !bytes.Equal(prepared, data) {
		t.Error("expected image within bounds to be returned unchanged")
	}
}

func TestPrepareImage_Downscales(t *testing.T) {
	tests := []struct {
		name           string
		width, height  int
		expectedWidth  int
		expectedHeight int
	}{
		{"landscape", 2000, 1000, 500, 250},
		{"portrait", 1000, 2000, 250, 500},
		{"square", 1200, 1200, 500, 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := encodeJPEG(createTestImage(tc.width, tc.height, color.Gray{Y: 128}))

			prepared, err := PrepareImage(data, 500)
			if err != nil {
				t.Fatalf("PrepareImage failed: %v", err)
			}

			img, format, err := image.Decode(bytes.NewReader(prepared))
			if err != nil {
				t.Fatalf("failed to decode prepared image: %v", err)
			}
			if format != "jpeg" {
				t.Errorf("expected jpeg format, got %s", format)
			}
			if img.Bounds().Dx() != tc.expectedWidth || img.Bounds().Dy() != tc.expectedHeight {
				t.Errorf("expected %dx%d, got %dx%d", tc.expectedWidth, tc.expectedHeight,
					img.Bounds().Dx(), img.Bounds().Dy())
			}
		})
	}
}

func TestPrepareImage_ZeroMaxSizeOnlyValidates(t *testing.T) {
	data := encodeJPEG(createTestImage(3000, 10, color.Black))

	prepared, err := PrepareImage(data, 0)
	if err != nil {
		t.Fatalf("PrepareImage failed: %v", err)
	}
	if !bytes.Equal(prepared, data) {
		t.Error("expected unchanged image when maxSize is 0")
	}
}

func TestPrepareImage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not an image", []byte("definitely not an image")},
		{"truncated png header", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PrepareImage(tc.data, 100)
			if !errors.Is(err, ErrInvalidImage) {
				t.Errorf("expected ErrInvalidImage, got %v", err)
			}
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", encodeJPEG(createTestImage(2, 2, color.White)), "image/jpeg"},
		{"png", encodePNG(createTestImage(2, 2, color.White)), "image/png"},
		{"gif", []byte("GIF89a\x00\x00\x00\x00"), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"too short", []byte{0xFF, 0xD8}, "application/octet-stream"},
		{"unknown", []byte("hello world!"), "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectMIMEType(tc.data); got != tc.expected {
				t.Errorf("detectMIMEType() = %s; want %s", got, tc.expected)
			}
		})
	}
}
