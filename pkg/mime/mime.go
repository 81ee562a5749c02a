package mime

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const sniffLen = 3072

// returns the MIME type of input and a new reader containing the whole data from input
func DetectReader(input io.Reader) (string, io.Reader, error) {
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(input, header)
	// io.UnexpectedEOF means input is smaller than sniffLen, it's not an error in this case
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, err
	}
	header = header[:n]

	ctype := mimetype.Detect(header).String()
	return ctype, io.MultiReader(bytes.NewReader(header), input), nil
}

// Detect returns the MIME type for a stored document. The key extension wins
// for yaml, which content sniffing only sees as plain text.
func Detect(key string, data []byte) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".yaml", ".yml":
		return "application/yaml"
	case ".json":
		return "application/json"
	}
	return mimetype.Detect(data).String()
}
