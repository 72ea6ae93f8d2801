package facebook

import "encoding/json"

// envelope is the shape of every Graph list response.
type envelope struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Cursors struct {
			Before string `json:"before"`
			After  string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

// graphErrorResponse is the body Graph returns with non-2xx statuses.
type graphErrorResponse struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

type pageResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
