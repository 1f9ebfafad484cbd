package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/quality"
)

func exportListing() *models.Listing {
	updated := time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)
	attributes := make([]models.Attribute, 4)
	for i := range attributes {
		attributes[i] = models.Attribute{Label: "Material", Value: "Steel"}
	}
	return &models.Listing{
		ID:              7,
		Platform:        models.PlatformMadeInChina,
		URL:             "https://www.made-in-china.com/product/Bolt-7.html",
		CanonicalURL:    "https://www.made-in-china.com/product/Bolt-7.html",
		Title:           "Hex bolt",
		PriceText:       "US$0.01-0.05",
		Currency:        "USD",
		MOQ:             1000,
		MOQUnit:         "Pieces",
		Categories:      models.StringList{"Hardware", "Fasteners"},
		ImageStatus:     models.ImageStatusCached,
		ImagePath:       "/cache/ab12.jpg",
		Detail:          &models.DetailPayload{Attributes: attributes},
		DetailUpdatedAt: &updated,
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listings.csv")

	writer, err := NewCSVWriter(path, quality.NewClassifier(10))
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if err := writer.Write([]*models.Listing{exportListing()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0][0] != "id" || records[0][2] != "title" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	row := records[1]
	if row[5] != "1000 Pieces" || row[7] != "Hardware > Fasteners" {
		t.Fatalf("unexpected row: %v", row)
	}
	if row[8] != string(quality.Partial) || row[9] != "4" {
		t.Fatalf("tier/attributes = %s/%s, want PARTIAL/4", row[8], row[9])
	}
	if row[13] != "2025-11-04T13:09:13Z" {
		t.Fatalf("detail_updated_at = %q", row[13])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listings.jsonl")

	writer, err := NewJSONWriter(path, quality.NewClassifier(4))
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write([]*models.Listing{exportListing(), {Platform: models.PlatformDHgate, Title: "No detail"}}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var tiers []string
	for scanner.Scan() {
		var decoded struct {
			Title       string `json:"title"`
			QualityTier string `json:"quality_tier"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		tiers = append(tiers, decoded.QualityTier)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(tiers) != 2 {
		t.Fatalf("json lines=%d, want 2", len(tiers))
	}
	if tiers[0] != "GOOD" || tiers[1] != "MISSING" {
		t.Fatalf("tiers = %v, want [GOOD MISSING]", tiers)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "listings.csv")
	jsonPath := filepath.Join(dir, "out", "listings.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath, quality.NewClassifier(10))
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]*models.Listing{exportListing()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

type recordingSummaryStore struct {
	upserted []*models.Listing
}

func (s *recordingSummaryStore) UpsertSummary(_ context.Context, l *models.Listing) (*models.Listing, error) {
	s.upserted = append(s.upserted, l)
	return l, nil
}

func TestStoreWriterCommitsSummaries(t *testing.T) {
	st := &recordingSummaryStore{}
	writer := NewStoreWriter(context.Background(), st)

	if err := writer.Validate(); err == nil {
		t.Fatal("expected validation error before any write")
	}
	if err := writer.Write([]*models.Listing{exportListing(), exportListing()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if writer.Written() != 2 || len(st.upserted) != 2 {
		t.Fatalf("written = %d, upserted = %d", writer.Written(), len(st.upserted))
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
