package jsonwalk

// cursorKeys are the object fields mined for pagination cursors, and
// moreKeys the spellings of the has-more flag seen across endpoints.
var (
	cursorKeys = []string{"cursor", "next_cursor", "max_cursor", "offset"}
	moreKeys   = []string{"has_more", "hasMore", "more"}
)

// maxHints caps how many pagination hints a single payload may yield.
const maxHints = 24

// PageHint is a pagination clue lifted from a captured payload. URL is
// filled in by the capture layer with the request the payload came
// from; the walker itself only sees the body.
type PageHint struct {
	URL          string
	CursorValues map[string]string
	HasMore      *bool
}

// PaginationHints scans payload for cursor values and has-more flags.
// Objects carrying neither are skipped and at most maxHints hints are
// returned.
func PaginationHints(payload any) []PageHint {
	var hints []PageHint
	for _, obj := range Maps(payload, DefaultMaxNodes) {
		cursors := map[string]string{}
		for _, key := range cursorKeys {
			v, ok := obj[key]
			if !ok || v == nil {
				continue
			}
			s := AsString(v)
			if s == "" {
				continue
			}
			cursors[key] = s
		}

		var hasMore *bool
		for _, key := range moreKeys {
			if b, ok := AsBool(obj[key]); ok {
				val := b
				hasMore = &val
				break
			}
		}

		if len(cursors) == 0 && hasMore == nil {
			continue
		}
		hints = append(hints, PageHint{CursorValues: cursors, HasMore: hasMore})
		if len(hints) >= maxHints {
			break
		}
	}
	return hints
}
