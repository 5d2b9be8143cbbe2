package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// exportPage is the page size used while streaming an export.
const exportPage = 500

// Export writes every record matching f to w as newline-delimited JSON,
// newest first, paging with BeforeID. f.Limit caps the total written;
// 0 means no cap. It returns the number of records written.
func Export(ctx context.Context, b Backend, w io.Writer, f Filter) (int, error) {
	if !b.Ready() {
		return 0, ErrNotReady
	}
	total := f.Limit
	enc := json.NewEncoder(w)
	written := 0

	for {
		page := f
		page.Limit = exportPage
		if total > 0 && total-written < exportPage {
			page.Limit = total - written
		}
		recs, err := b.Query(ctx, page)
		if err != nil {
			return written, fmt.Errorf("export query: %w", err)
		}
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return written, fmt.Errorf("export write: %w", err)
			}
			written++
		}
		if len(recs) < page.Limit || (total > 0 && written >= total) {
			return written, nil
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
		f.BeforeID = recs[len(recs)-1].ID
	}
}
