package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSX renders every sheet as lines of space-separated cells under a
// [Sheet name] header. Empty sheets are skipped.
func XLSX(ctx context.Context, path string) (string, error) {
	x, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer x.Close()
	var b strings.Builder
	for _, sheet := range x.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := x.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}
		var lines []string
		for _, row := range rows {
			var cells []string
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " "))
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n[Sheet %s]\n%s\n", sheet, strings.Join(lines, "\n"))
	}
	return b.String(), nil
}
