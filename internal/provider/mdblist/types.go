package mdblist

// mediaResponse is the MDBList response for an IMDb ID lookup.
type mediaResponse struct {
	Title   string        `json:"title"`
	Score   *float32      `json:"score"`
	Ratings []ratingEntry `json:"ratings"`
}

type ratingEntry struct {
	Source string   `json:"source"`
	Value  *float32 `json:"value"`
}
