package storage

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteStatistics writes the statistics log as a JSON array. An empty log
// is written as [] rather than null.
func WriteStatistics(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create statistics file %s: %w", path, err)
	}
	if err := json.NewEncoder(f).Encode(records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	return f.Close()
}

// ReadStatistics reads a statistics log.
func ReadStatistics(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics file %s: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse statistics file %s: %w", path, err)
	}
	return records, nil
}
