package model

import "time"

type TradeRecord struct {
	ID            string       `json:"id"`
	SessionID     string       `json:"sessionId"`
	Item          string       `json:"item"`
	Mode          PurchaseMode `json:"mode"`
	Lot           int          `json:"lot"`
	RealizedPrice int          `json:"realizedPrice"`
	Spent         int          `json:"spent"`
	CreatedAt     time.Time    `json:"createdAt"`
}
