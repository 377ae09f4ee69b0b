package openformats

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ODDDocument lists the ODR variants of one drawable dictionary, in file order.
type ODDDocument struct {
	Path string   `json:"path,omitempty"`
	ODRs []string `json:"odrs"`
}

func ODDReadFrom(path string, opts *ReadOptions) (*ODDDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open odd %s", path)
	}
	defer f.Close()
	doc, err := ParseODD(f, filepath.Dir(path), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "read odd %s", path)
	}
	doc.Path = path
	return doc, nil
}

// ParseODD collects every line ending in ".odr"; other lines are ignored.
func ParseODD(r io.Reader, dir string, opts *ReadOptions) (*ODDDocument, error) {
	lr := NewLineReaderEncoding(r, opts.encoding())
	doc := &ODDDocument{}
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return doc, nil
		}
		if err != nil {
			return nil, err
		}
		ref := strings.TrimSpace(line)
		if strings.HasSuffix(strings.ToLower(ref), ODR_EXT) {
			doc.ODRs = append(doc.ODRs, resolveRef(dir, ref))
		}
	}
}
