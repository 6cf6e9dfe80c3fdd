package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

var errNoImage = errors.New("no image provided")

// isMultipart reports whether the request carries multipart/form-data.
func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readUploadedFiles reads multipart files into memory, keeping form order.
func readUploadedFiles(files []*multipart.FileHeader) ([][]byte, error) {
	images := make([][]byte, 0, len(files))
	for _, fileHeader := range files {
		data, err := func() ([]byte, error) {
			file, err := fileHeader.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open file: %s", fileHeader.Filename)
			}
			defer file.Close()

			data, err := io.ReadAll(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read file: %s", fileHeader.Filename)
			}
			return data, nil
		}()
		if err != nil {
			return nil, err
		}
		images = append(images, data)
	}
	return images, nil
}

// decodeBase64Image decodes standard or URL-safe base64, padded or not.
// A data URL prefix such as "data:image/jpeg;base64," is stripped first.
func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URL")
		}
		s = s[comma+1:]
	}
	s = strings.NewReplacer("\n", "", "\r", "", " ", "").Replace(s)
	if s == "" {
		return nil, errNoImage
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("image is not valid base64")
}

// decodeBase64Images decodes every entry, reporting the index of the first bad one.
func decodeBase64Images(encoded []string) ([][]byte, error) {
	images := make([][]byte, 0, len(encoded))
	for i, s := range encoded {
		data, err := decodeBase64Image(s)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		images = append(images, data)
	}
	return images, nil
}

// formImages returns the files uploaded under field.
func formImages(r *http.Request, field string) ([][]byte, error) {
	if r.MultipartForm == nil {
		return nil, errNoImage
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, errNoImage
	}
	return readUploadedFiles(files)
}
