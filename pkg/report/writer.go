// Copyright (c) 2025 coderobe
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
package report

import (
	"encoding/xml"
	"io"
)

// Writer streams a geometry report: header first, then the geometry
// element, then any number of mapping entries, closed by Close.
type Writer struct {
	w   io.Writer
	enc *xml.Encoder
}

// NewWriter creates a report writer with two-space indentation.
func NewWriter(w io.Writer) *Writer {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	return &Writer{
		w:   w,
		enc: enc,
	}
}

// WriteHeader writes the XML declaration and the opening
// <geometry_report> element with its metadata children.
func (w *Writer) WriteHeader(hdr Header) error {
	if _, err := w.w.Write([]byte(xml.Header)); err != nil {
		return err
	}

	// The root element is opened by hand so the document can stream
	// mapping entries before the closing tag.
	start := xml.StartElement{
		Name: xml.Name{Local: "geometry_report"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "version"}, Value: hdr.Version},
		},
	}
	if err := w.enc.EncodeToken(start); err != nil {
		return err
	}

	if err := w.enc.EncodeElement(hdr.Creator, xml.StartElement{Name: xml.Name{Local: "creator"}}); err != nil {
		return err
	}
	if err := w.enc.EncodeElement(hdr.Index, xml.StartElement{Name: xml.Name{Local: "index"}}); err != nil {
		return err
	}
	if err := w.encodeSource("cache_device", hdr.Cache); err != nil {
		return err
	}
	if hdr.Origin != nil {
		if err := w.encodeSource("origin_device", *hdr.Origin); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) encodeSource(name string, src Source) error {
	return w.enc.EncodeElement(src, xml.StartElement{Name: xml.Name{Local: name}})
}

// WriteGeometry writes the selected hypothesis element.
func (w *Writer) WriteGeometry(g Geometry) error {
	return w.enc.Encode(g)
}

// WriteMapping writes one cache-to-origin mapping entry.
func (w *Writer) WriteMapping(m Mapping) error {
	return w.enc.Encode(m)
}

// Close writes the closing </geometry_report> tag and flushes.
func (w *Writer) Close() error {
	if err := w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: "geometry_report"}}); err != nil {
		return err
	}
	return w.enc.Flush()
}
