package api

// Record is a single production record as served by the reporting API.
// Source identifies which store the row came from ("archive" or "live")
// and participates in the sort key for cursor pagination.
type Record struct {
	ID             int64   `json:"id"`
	ProductionDate string  `json:"production_date"`
	ItemCode       string  `json:"item_code"`
	ItemName       string  `json:"item_name"`
	GoodQuantity   float64 `json:"good_quantity"`
	LotNumber      string  `json:"lot_number"`
	Source         string  `json:"source"`
}

// RecordPage is one page of records plus the cursor to resume from.
type RecordPage struct {
	Data []Record `json:"data"`
	// NextCursor resumes a keyset scan after the last row of Data.
	// Empty when HasMore is false.
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
	Count      int    `json:"count"`
}

// Item is a distinct product with its record count across the queried stores.
type Item struct {
	ItemCode    string `json:"item_code"`
	ItemName    string `json:"item_name"`
	RecordCount int64  `json:"record_count"`
}

// Summary holds aggregate production statistics for a period.
type Summary struct {
	TotalQuantity   float64 `json:"total_quantity"`
	AverageQuantity float64 `json:"average_quantity"`
	ProductionCount int64   `json:"production_count"`
}

// MonthlyRow is one month of the production trend.
type MonthlyRow struct {
	YearMonth       string  `json:"year_month"`
	TotalProduction float64 `json:"total_production"`
	BatchCount      int64   `json:"batch_count"`
}

// TopItem is one entry of the top-produced-items ranking.
type TopItem struct {
	ItemCode        string  `json:"item_code"`
	ItemName        string  `json:"item_name"`
	TotalProduction float64 `json:"total_production"`
}

// Error is the structured error payload returned on the query path.
// Reason is machine-readable so callers can distinguish, for example,
// an unsafe sandbox query from one that was merely too slow.
type Error struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}
