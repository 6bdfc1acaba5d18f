package export

import "errors"

// ErrNotImplemented is reported until the text export format is settled.
var ErrNotImplemented = errors.New("export: txt export is not implemented")

// Txt is the extension point for exporting a project document as plain-text
// map files.
// TODO: emit node.txt, link.txt, arrow.txt, polygon.txt and core.txt from the
// document's nodes, connections and northReference, bundled as a zip, once the
// downstream consumer fixes the format.
func Txt(doc map[string]any) ([]byte, error) {
	return nil, ErrNotImplemented
}
