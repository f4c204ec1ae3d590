package emby

// SystemInfo is the response from GET /System/Info.
type SystemInfo struct {
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
	ID         string `json:"Id"`
}

// VirtualFolder is a library entry from GET /Library/VirtualFolders.
type VirtualFolder struct {
	Name           string   `json:"Name"`
	CollectionType string   `json:"CollectionType"`
	ItemID         string   `json:"ItemId"`
	Locations      []string `json:"Locations"`
}

// ItemsResponse is the paginated envelope Emby returns for item queries.
type ItemsResponse struct {
	Items            []BaseItem `json:"Items"`
	TotalRecordCount int        `json:"TotalRecordCount"`
}

// BaseItem is the subset of Emby's item DTO the engine needs.
type BaseItem struct {
	ID              string            `json:"Id"`
	Name            string            `json:"Name"`
	Type            string            `json:"Type"`
	ProductionYear  int               `json:"ProductionYear"`
	ProviderIDs     map[string]string `json:"ProviderIds"`
	CommunityRating *float32          `json:"CommunityRating"`
	CriticRating    *float32          `json:"CriticRating"`
	DateCreated     string            `json:"DateCreated"`

	SeriesID          string `json:"SeriesId"`
	SeriesName        string `json:"SeriesName"`
	ParentIndexNumber *int   `json:"ParentIndexNumber"`
	IndexNumber       *int   `json:"IndexNumber"`
	SeasonName        string `json:"SeasonName"`
}
