package report

import (
	"encoding/xml"
	"fmt"
	"io"
)

// ReadReport parses a geometry report produced by Writer. Unknown
// elements are skipped for forward compatibility.
func ReadReport(r io.Reader) (*Report, error) {
	dec := xml.NewDecoder(r)

	var rep Report
	sawGeometry := false

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "geometry_report":
			for _, attr := range start.Attr {
				if attr.Name.Local == "version" {
					rep.Header.Version = attr.Value
				}
			}
		case "creator":
			err = dec.DecodeElement(&rep.Header.Creator, &start)
		case "index":
			err = dec.DecodeElement(&rep.Header.Index, &start)
		case "cache_device":
			err = dec.DecodeElement(&rep.Header.Cache, &start)
		case "origin_device":
			rep.Header.Origin = &Source{}
			err = dec.DecodeElement(rep.Header.Origin, &start)
		case "geometry":
			sawGeometry = true
			err = dec.DecodeElement(&rep.Geometry, &start)
		case "map":
			var m Mapping
			if err = dec.DecodeElement(&m, &start); err == nil {
				rep.Mappings = append(rep.Mappings, m)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("invalid geometry report: %w", err)
		}
	}

	if !sawGeometry {
		return nil, fmt.Errorf("invalid geometry report: no geometry element")
	}
	return &rep, nil
}
