package omdb

// titleResponse is the OMDb API response for a title or episode lookup.
// Absent values come back as the literal string "N/A".
type titleResponse struct {
	Response   string        `json:"Response"`
	Error      string        `json:"Error"`
	IMDBRating string        `json:"imdbRating"`
	Ratings    []ratingEntry `json:"Ratings"`
}

type ratingEntry struct {
	Source string `json:"Source"`
	Value  string `json:"Value"`
}
