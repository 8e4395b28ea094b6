package models

import "time"

// Candle is one OHLCV bar. Time is epoch seconds.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Balance is an account balance in the asset's smallest unit.
type Balance struct {
	Symbol   string `json:"symbol"`
	Balance  int64  `json:"balance"`
	Decimals int32  `json:"decimals"`
}

// User identifies the signed-in account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the local record of a successful login.
type Session struct {
	ID        string    `json:"id"`
	User      User      `json:"user"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
