package sources

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/job-aggregator/internal/jobs"
)

// File reads records from a JSON array or a JSONL file.
type File struct {
	path string
}

// NewFiles returns one source per file matching the patterns.
func NewFiles(patterns []string) ([]Source, error) {
	paths, err := expand(patterns)
	if err != nil {
		return nil, err
	}

	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		out = append(out, &File{path: p})
	}
	return out, nil
}

// Name is the file name without extension.
func (f *File) Name() string {
	base := filepath.Base(f.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (f *File) Fetch(ctx context.Context) ([]*jobs.Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	objects, err := decodeObjects(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}

	records := make([]*jobs.Record, 0, len(objects))
	for i, obj := range objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(obj)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", f.path, i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeObjects(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var objects []map[string]any
		if err := json.Unmarshal(trimmed, &objects); err != nil {
			return nil, fmt.Errorf("decode json array: %w", err)
		}
		return objects, nil
	}

	var objects []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(text, &obj); err != nil {
			return nil, fmt.Errorf("decode line %d: %w", line, err)
		}
		objects = append(objects, obj)
	}
	return objects, scanner.Err()
}

type inputRecord struct {
	Source         string   `mapstructure:"source"`
	ProviderID     string   `mapstructure:"provider_id"`
	Title          string   `mapstructure:"title"`
	Company        string   `mapstructure:"company"`
	Location       string   `mapstructure:"location"`
	URL            string   `mapstructure:"url"`
	ApplyURL       string   `mapstructure:"apply_url"`
	PostedAt       string   `mapstructure:"posted_at"`
	Description    string   `mapstructure:"description"`
	WorkMode       string   `mapstructure:"work_mode"`
	EmploymentType string   `mapstructure:"employment_type"`
	SalaryMin      *float64 `mapstructure:"salary_min"`
	SalaryMax      *float64 `mapstructure:"salary_max"`
	SalaryCurrency string   `mapstructure:"salary_currency"`
	Tags           []string `mapstructure:"tags"`
}

// decodeRecord maps a loosely typed object onto a record. Numbers are accepted
// where strings are expected, which is common for provider ids.
func decodeRecord(obj map[string]any) (*jobs.Record, error) {
	var in inputRecord
	if err := weakDecode(obj, &in); err != nil {
		return nil, err
	}

	rec := &jobs.Record{
		Source:          in.Source,
		ProviderID:      in.ProviderID,
		Title:           in.Title,
		Company:         in.Company,
		LocationRaw:     in.Location,
		URL:             in.URL,
		ApplyURL:        in.ApplyURL,
		PostedAt:        jobs.ParseDate(in.PostedAt),
		DescriptionText: in.Description,
		WorkMode:        strings.ToLower(strings.TrimSpace(in.WorkMode)),
		EmploymentType:  in.EmploymentType,
		SalaryMin:       in.SalaryMin,
		SalaryMax:       in.SalaryMax,
		SalaryCurrency:  in.SalaryCurrency,
		Tags:            in.Tags,
	}
	if rec.WorkMode == "" {
		rec.WorkMode = jobs.InferWorkMode(rec.LocationRaw, rec.Title)
	}
	return rec, nil
}

func weakDecode(input any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
