package reporting

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// WriteTradesCSV writes every ledger trade, oldest first
func WriteTradesCSV(r Report, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Timestamp", "Asset", "Symbol", "Side", "Price", "Quantity", "Value"}); err != nil {
		return err
	}
	for _, t := range r.trades() {
		if err := w.Write([]string{
			t.Timestamp.UTC().Format(time.RFC3339),
			t.Address,
			t.Symbol,
			string(t.Type),
			strconv.FormatFloat(t.Price, 'f', 8, 64),
			strconv.FormatFloat(t.Quantity, 'f', 8, 64),
			strconv.FormatFloat(t.Value, 'f', 8, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// WriteJSON dumps the whole report
func WriteJSON(r Report, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
