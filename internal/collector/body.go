package collector

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type bodyFormat int

const (
	formatSkip bodyFormat = iota
	formatJSON
	formatXML
	formatText
)

func classify(contentType string) bodyFormat {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	switch {
	case strings.HasSuffix(ct, "json") || strings.HasSuffix(ct, "+json"):
		return formatJSON
	case strings.HasSuffix(ct, "/xml") || strings.HasSuffix(ct, "+xml"):
		return formatXML
	case strings.HasPrefix(ct, "text/"), ct == "application/javascript":
		return formatText
	}
	return formatSkip
}

// applyBody decodes body into ev according to its content type. Parse
// failures keep the truncated raw text and record the reason.
func applyBody(ev *schemas.Event, body []byte, maxBytes int) {
	switch classify(ev.ContentType) {
	case formatJSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			ev.RawBody = truncate(body, maxBytes)
			ev.ParseError = fmt.Errorf("%w: %v", schemas.ErrCollectorParse, err).Error()
			return
		}
		ev.Body = v
	case formatXML:
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(body); err != nil {
			ev.RawBody = truncate(body, maxBytes)
			ev.ParseError = fmt.Errorf("%w: %v", schemas.ErrCollectorParse, err).Error()
			return
		}
		root := doc.Root()
		if root == nil {
			ev.RawBody = truncate(body, maxBytes)
			ev.ParseError = fmt.Errorf("%w: document has no root element", schemas.ErrCollectorParse).Error()
			return
		}
		ev.Body = elementToMap(root)
	case formatText:
		ev.RawBody = truncate(body, maxBytes)
	}
}

// elementToMap flattens an XML element into plain maps so it serializes the
// same way a JSON body does.
func elementToMap(el *etree.Element) map[string]any {
	m := map[string]any{"tag": el.FullTag()}
	if len(el.Attr) > 0 {
		attrs := make(map[string]string, len(el.Attr))
		for _, a := range el.Attr {
			attrs[a.FullKey()] = a.Value
		}
		m["attrs"] = attrs
	}
	if text := strings.TrimSpace(el.Text()); text != "" {
		m["text"] = text
	}
	if children := el.ChildElements(); len(children) > 0 {
		list := make([]any, 0, len(children))
		for _, c := range children {
			list = append(list, elementToMap(c))
		}
		m["children"] = list
	}
	return m
}

func truncate(body []byte, max int) string {
	if max <= 0 || len(body) <= max {
		return string(body)
	}
	b := body[:max]
	// Drop a rune cut in half by the limit.
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if r, size := utf8.DecodeLastRune(b); r != utf8.RuneError || size > 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return string(b)
}
