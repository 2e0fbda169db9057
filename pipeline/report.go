package pipeline

import "time"

// Card is a rendered card and the news it was made from.
type Card struct {
	Number   int
	News     NewsItem
	Analysis Analysis
	Path     string
	Filename string
	ImageURL string
}

// ItemOutcome is the result of processing one news item. Card is nil when
// the item failed at Stage with Err.
type ItemOutcome struct {
	Number int
	News   NewsItem
	Card   *Card
	Stage  string
	Err    error
}

// PostOutcome is the result of one publish call covering the cards
// numbered Numbers.
type PostOutcome struct {
	Numbers []int
	Result  *PostResult
	Err     error
}

// Report summarizes a pipeline run.
type Report struct {
	RunID      string
	Query      string
	PostMode   string
	StartedAt  time.Time
	FinishedAt time.Time
	SearchErr  error
	Found      int
	Skipped    int
	Items      []ItemOutcome
	Posts      []PostOutcome
}

// Cards returns the successfully rendered cards in order.
func (r *Report) Cards() []*Card {
	var cards []*Card
	for _, item := range r.Items {
		if item.Card != nil {
			cards = append(cards, item.Card)
		}
	}
	return cards
}

// Failures returns the number of items that produced no card.
func (r *Report) Failures() int {
	n := 0
	for _, item := range r.Items {
		if item.Err != nil {
			n++
		}
	}
	return n
}

// Published returns the number of successful posts.
func (r *Report) Published() int {
	n := 0
	for _, p := range r.Posts {
		if p.Err == nil && p.Result != nil {
			n++
		}
	}
	return n
}

// Status classifies the run. A run fails when the search fails, when no
// item produced a card, or when every publish attempt failed. It is
// partial when some items or posts failed.
func (r *Report) Status() string {
	if r.SearchErr != nil {
		return StatusFailed
	}
	if len(r.Items) > 0 && len(r.Cards()) == 0 {
		return StatusFailed
	}
	if len(r.Posts) > 0 && r.Published() == 0 {
		return StatusFailed
	}
	if r.Failures() > 0 || r.Published() < len(r.Posts) {
		return StatusPartial
	}
	return StatusSuccess
}
