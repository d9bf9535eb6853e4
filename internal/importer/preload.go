package importer

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// wayRecord is one line of the street/building geometry streams.
type wayRecord struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Nodes []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"nodes"`
}

// loadWayGeometries reads a gzip NDJSON way stream into flat (lon, lat)
// coordinate lists keyed by source id. Malformed lines and non-way records
// are skipped with a warning; ways need at least two coordinates.
func (s *Session) loadWayGeometries(path, kind string) (map[int64][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open %s stream", kind)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: read %s stream", kind)
	}
	defer gz.Close()

	log := s.log.With(zap.String("stream", kind))
	geometries := map[int64][]float64{}
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var way wayRecord
		if err := json.Unmarshal(line, &way); err != nil {
			log.Warn("skipping malformed line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if way.Type != "way" {
			if way.Type != "node" {
				log.Warn("ignored record type", zap.String("type", way.Type))
			}
			continue
		}
		if len(way.Nodes) < 2 {
			continue
		}
		flat := make([]float64, 0, len(way.Nodes)*2)
		for _, node := range way.Nodes {
			flat = append(flat, node.Lon, node.Lat)
		}
		geometries[way.ID] = flat
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "importer: scan %s stream", kind)
	}
	return geometries, nil
}
