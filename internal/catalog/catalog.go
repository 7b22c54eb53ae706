// Package catalog loads the lecture → topics mapping used to pick quiz topics.
package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

const (
	lectureColumn = "Lecture"
	topicColumn   = "Topic"
)

// ErrUnknownLecture is returned for a lecture name that is not in the catalog.
var ErrUnknownLecture = errors.New("unknown lecture")

// Catalog maps lecture names to their ordered topics. It is immutable once built.
type Catalog struct {
	lectures []string
	topics   map[string][]string
}

// New builds a catalog from (lecture, topic) rows. Rows with an empty topic
// register the lecture without adding a topic.
func New(rows [][2]string) *Catalog {
	c := &Catalog{topics: make(map[string][]string)}
	for _, r := range rows {
		c.add(r[0], r[1])
	}
	return c
}

func (c *Catalog) add(lecture, topic string) {
	lecture = strings.TrimSpace(lecture)
	topic = strings.TrimSpace(topic)
	if lecture == "" {
		return
	}
	if _, ok := c.topics[lecture]; !ok {
		c.lectures = append(c.lectures, lecture)
		c.topics[lecture] = nil
	}
	if topic != "" {
		c.topics[lecture] = append(c.topics[lecture], topic)
	}
}

// Lectures returns all lecture names in first-appearance order.
func (c *Catalog) Lectures() []string {
	out := make([]string, len(c.lectures))
	copy(out, c.lectures)
	return out
}

// Topics returns the ordered topics of a lecture.
func (c *Catalog) Topics(lecture string) ([]string, error) {
	topics, ok := c.topics[lecture]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLecture, lecture)
	}
	out := make([]string, len(topics))
	copy(out, topics)
	return out, nil
}

// Len returns the number of lectures.
func (c *Catalog) Len() int {
	return len(c.lectures)
}

// TopicCount returns the total number of topics over all lectures.
func (c *Catalog) TopicCount() int {
	n := 0
	for _, t := range c.topics {
		n += len(t)
	}
	return n
}

// LoadFile loads a catalog, choosing the parser by file extension:
// .csv (semicolon-delimited), .yaml/.yml, or .xlsx.
func LoadFile(path string) (*Catalog, error) {
	var (
		c   *Catalog
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c, err = loadYAMLFile(path)
	case ".xlsx":
		c, err = loadXLSXFile(path)
	default:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		c, err = ParseCSV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	slog.Info("topic catalog loaded", "path", path, "lectures", c.Len(), "topics", c.TopicCount())
	return c, nil
}

// ParseCSV reads a semicolon-delimited file with a header row naming the
// Lecture and Topic columns.
func ParseCSV(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return fromRecords(records)
}

// fromRecords interprets a header row followed by data rows.
func fromRecords(records [][]string) (*Catalog, error) {
	if len(records) == 0 {
		return nil, errors.New("empty catalog: missing header row")
	}
	lectureIdx, topicIdx := -1, -1
	for i, h := range records[0] {
		switch strings.TrimSpace(h) {
		case lectureColumn:
			lectureIdx = i
		case topicColumn:
			topicIdx = i
		}
	}
	if lectureIdx < 0 || topicIdx < 0 {
		return nil, fmt.Errorf("header must contain %q and %q columns, got %v", lectureColumn, topicColumn, records[0])
	}

	c := &Catalog{topics: make(map[string][]string)}
	for _, rec := range records[1:] {
		c.add(field(rec, lectureIdx), field(rec, topicIdx))
	}
	return c, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

// yamlDoc supports a list form that keeps lecture order.
//
//	lectures:
//	  - name: Databases
//	    topics: [Normalization, Indexes]
type yamlDoc struct {
	Lectures []struct {
		Name   string   `yaml:"name"`
		Topics []string `yaml:"topics"`
	} `yaml:"lectures"`
}

func loadYAMLFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML reads a catalog from YAML in the `lectures:` list form.
func ParseYAML(data []byte) (*Catalog, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	c := &Catalog{topics: make(map[string][]string)}
	for _, l := range doc.Lectures {
		c.add(l.Name, "")
		for _, t := range l.Topics {
			c.add(l.Name, t)
		}
	}
	return c, nil
}

func loadXLSXFile(path string) (*Catalog, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRecords(rows)
}
