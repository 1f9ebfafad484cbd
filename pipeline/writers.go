package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/quality"
)

var csvHeader = []string{
	"id", "platform", "title", "price", "currency", "moq", "store",
	"categories", "quality_tier", "attributes", "image_status", "image_path",
	"canonical_url", "detail_updated_at",
}

// CSVWriter writes listings to CSV.
type CSVWriter struct {
	file       *os.File
	writer     *csv.Writer
	classifier quality.Classifier
	mu         sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string, classifier quality.Classifier) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:       f,
		writer:     writer,
		classifier: classifier,
	}, nil
}

// Write appends listings to the CSV output.
func (cw *CSVWriter) Write(listings []*models.Listing) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, listing := range listings {
		if err := cw.writer.Write(cw.record(listing)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func (cw *CSVWriter) record(l *models.Listing) []string {
	attributes := 0
	if l.Detail != nil {
		attributes = len(l.Detail.Attributes)
	}
	moq := ""
	if l.MOQ > 0 {
		moq = strings.TrimSpace(strconv.Itoa(l.MOQ) + " " + l.MOQUnit)
	}
	updated := ""
	if l.DetailUpdatedAt != nil {
		updated = l.DetailUpdatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.FormatUint(uint64(l.ID), 10),
		string(l.Platform),
		l.Title,
		l.PriceText,
		l.Currency,
		moq,
		l.StoreName,
		strings.Join(l.Categories, " > "),
		string(cw.classifier.Classify(l.Detail)),
		strconv.Itoa(attributes),
		string(l.ImageStatus),
		l.ImagePath,
		l.CanonicalURL,
		updated,
	}
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// exportRecord is the JSONL shape: the listing plus its derived tier.
type exportRecord struct {
	*models.Listing
	QualityTier quality.Tier `json:"quality_tier"`
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file       *os.File
	writer     *bufio.Writer
	encoder    *json.Encoder
	classifier quality.Classifier
	mu         sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string, classifier quality.Classifier) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:       f,
		writer:     buffer,
		encoder:    json.NewEncoder(buffer),
		classifier: classifier,
	}, nil
}

// Write appends listings in JSONL format.
func (jw *JSONWriter) Write(listings []*models.Listing) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, listing := range listings {
		record := exportRecord{Listing: listing, QualityTier: jw.classifier.Classify(listing.Detail)}
		if err := jw.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
