package crawler

// Note is one normalized post sample.
type Note struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Desc           string  `json:"desc"`
	LikedCount     int     `json:"liked_count"`
	CommentsCount  int     `json:"comments_count"`
	CollectedCount int     `json:"collected_count"`
	PublishedAt    *string `json:"published_at"`
	Platform       string  `json:"platform"`
	URL            string  `json:"url,omitempty"`
}

// Comment is one normalized comment sample.
type Comment struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	LikeCount    int     `json:"like_count"`
	UserNickname string  `json:"user_nickname"`
	IPLocation   string  `json:"ip_location"`
	PublishedAt  *string `json:"published_at"`
	Platform     string  `json:"platform"`
	ParentID     string  `json:"parent_id,omitempty"`
}

// Limits caps the fan-out of one job.
type Limits struct {
	Notes           int `json:"notes"`
	CommentsPerNote int `json:"comments_per_note"`
}

// Request describes one platform crawl.
type Request struct {
	ValidationID  string `json:"validation_id"`
	TraceID       string `json:"trace_id"`
	UserID        string `json:"user_id,omitempty"`
	Query         string `json:"query"`
	Mode          string `json:"mode"` // quick | deep
	Limits        Limits `json:"limits"`
	FreshnessDays int    `json:"freshness_days"`
	TimeoutMS     int    `json:"timeout_ms"`
}

// NormalizedLimits returns the limits with floors applied.
func (r Request) NormalizedLimits() Limits {
	l := r.Limits
	if l.Notes < 1 {
		l.Notes = 1
	}
	if l.CommentsPerNote < 1 {
		l.CommentsPerNote = 1
	}
	return l
}

// Diagnostic carries operability details alongside a platform result.
type Diagnostic struct {
	ProxyBindingID string   `json:"proxy_binding_id"`
	ProxyRotated   bool     `json:"proxy_rotated"`
	FallbackUsed   bool     `json:"fallback_used,omitempty"`
	FallbackReason string   `json:"fallback_reason,omitempty"`
	ErrorsHead     []string `json:"errors_head,omitempty"`
}

// PlatformResult is one platform's crawl outcome.
type PlatformResult struct {
	Platform   string      `json:"platform"`
	Notes      []Note      `json:"notes"`
	Comments   []Comment   `json:"comments"`
	Success    bool        `json:"success"`
	LatencyMS  int         `json:"latency_ms"`
	Error      string      `json:"error,omitempty"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

// Cost tracks what a crawl consumed.
type Cost struct {
	ExternalAPICalls int                `json:"external_api_calls"`
	ProxyCalls       int                `json:"proxy_calls"`
	EstCost          float64            `json:"est_cost"`
	ProviderMix      map[string]float64 `json:"provider_mix"`
}

// Add merges another cost into this one.
func (c *Cost) Add(other Cost) {
	c.ExternalAPICalls += other.ExternalAPICalls
	c.ProxyCalls += other.ProxyCalls
	c.EstCost += other.EstCost
	if other.ProviderMix != nil {
		if c.ProviderMix == nil {
			c.ProviderMix = make(map[string]float64, len(other.ProviderMix))
		}
		for k, v := range other.ProviderMix {
			c.ProviderMix[k] += v
		}
	}
}

// noteRow is an un-normalized note candidate as it comes off a payload
// or the DOM, before merge and ranking.
type noteRow struct {
	ID             string
	URL            string
	Title          string
	Desc           string
	LikedCount     int
	CommentsCount  int
	CollectedCount int
	Source         string
	XsecToken      string
	XsecSource     string
	SearchSort     string
	Relevance      int
	Score          float64
}

// commentRow is an un-normalized comment candidate.
type commentRow struct {
	ID           string
	Content      string
	LikeCount    int
	UserNickname string
	IPLocation   string
	PublishedAt  string
}

func (c commentRow) toComment(platform, parentID, fallbackID string) Comment {
	id := c.ID
	if id == "" {
		id = fallbackID
	}
	var published *string
	if c.PublishedAt != "" {
		p := c.PublishedAt
		published = &p
	}
	return Comment{
		ID:           id,
		Content:      c.Content,
		LikeCount:    c.LikeCount,
		UserNickname: c.UserNickname,
		IPLocation:   c.IPLocation,
		PublishedAt:  published,
		Platform:     platform,
		ParentID:     parentID,
	}
}
