// Package arkham implements the venue wire formats: the level-2 streaming
// session and the signed REST order endpoint.
package arkham

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

const (
	// ChannelL2Updates is the level-2 orderbook channel.
	ChannelL2Updates = "l2_updates"
	// MessageTypeSnapshot marks a full book replacement on ChannelL2Updates.
	MessageTypeSnapshot = "snapshot"
)

// SubscribeParams are the channel parameters of a subscribe request.
type SubscribeParams struct {
	Group    string `json:"group"`
	Snapshot bool   `json:"snapshot"`
	Symbol   string `json:"symbol"`
}

// SubscribeArgs names the channel being subscribed to.
type SubscribeArgs struct {
	Channel string          `json:"channel"`
	Params  SubscribeParams `json:"params"`
}

// SubscribeRequest is sent once per successful connection.
type SubscribeRequest struct {
	Args           SubscribeArgs `json:"args"`
	ConfirmationID string        `json:"confirmationId"`
	Method         string        `json:"method"`
}

// NewL2Subscribe builds a level-2 subscription with the initial snapshot
// requested.
func NewL2Subscribe(symbol, group, confirmationID string) SubscribeRequest {
	return SubscribeRequest{
		Args: SubscribeArgs{
			Channel: ChannelL2Updates,
			Params: SubscribeParams{
				Group:    group,
				Snapshot: true,
				Symbol:   symbol,
			},
		},
		ConfirmationID: confirmationID,
		Method:         "subscribe",
	}
}

// Envelope is the outer shape of every inbound streaming message.
type Envelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// HasData reports whether the message carried a non-null payload.
func (e Envelope) HasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// IsSnapshot reports whether the payload replaces the whole book.
func (e Envelope) IsSnapshot() bool {
	return e.Type == MessageTypeSnapshot
}

// bookData is the payload of a snapshot message. Entries are decoded one by
// one so a single bad level does not discard the batch.
type bookData struct {
	Bids []json.RawMessage `json:"bids"`
	Asks []json.RawMessage `json:"asks"`
}

// levelObject is the named-field form of a level entry.
type levelObject struct {
	Price json.RawMessage `json:"price"`
	Size  json.RawMessage `json:"size"`
	Side  string          `json:"side"`
}

// DecodeBook converts a snapshot payload into bid and ask levels. Entries
// that cannot be parsed are skipped. An error is returned only when the
// payload itself is not a book object.
func DecodeBook(data json.RawMessage) (bids, asks []domain.PriceLevel, err error) {
	var book bookData
	if err := json.Unmarshal(data, &book); err != nil {
		return nil, nil, fmt.Errorf("arkham: decode book: %w", err)
	}
	return decodeLevels(book.Bids), decodeLevels(book.Asks), nil
}

func decodeLevels(raw []json.RawMessage) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, r := range raw {
		price, size, _, ok := decodeEntry(r)
		if !ok {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels
}

// DecodeUpdates converts an incremental payload into level updates. The
// payload is one entry or an array of entries. Entries with unparsable
// numbers are skipped; any side other than "buy" applies to the asks.
func DecodeUpdates(data json.RawMessage) []domain.LevelUpdate {
	d := bytes.TrimSpace(data)
	if len(d) == 0 {
		return nil
	}

	var entries []json.RawMessage
	if d[0] == '[' {
		if err := json.Unmarshal(d, &entries); err != nil {
			return nil
		}
		// A bare [price, size, side?] is one positional entry.
		if len(entries) > 0 && !isContainer(entries[0]) {
			entries = []json.RawMessage{d}
		}
	} else {
		entries = []json.RawMessage{d}
	}

	updates := make([]domain.LevelUpdate, 0, len(entries))
	for _, e := range entries {
		price, size, side, ok := decodeEntry(e)
		if !ok {
			continue
		}
		updates = append(updates, domain.LevelUpdate{Price: price, Size: size, Side: parseSide(side)})
	}
	return updates
}

// decodeEntry accepts {"price":..,"size":..,"side":..} or [price, size, side?]
// where price and size may be JSON strings or numbers.
func decodeEntry(raw json.RawMessage) (price, size decimal.Decimal, side string, ok bool) {
	r := bytes.TrimSpace(raw)
	if len(r) == 0 {
		return price, size, "", false
	}

	var priceRaw, sizeRaw json.RawMessage
	switch r[0] {
	case '{':
		var obj levelObject
		if err := json.Unmarshal(r, &obj); err != nil {
			return price, size, "", false
		}
		priceRaw, sizeRaw, side = obj.Price, obj.Size, obj.Side
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(r, &arr); err != nil || len(arr) < 2 {
			return price, size, "", false
		}
		priceRaw, sizeRaw = arr[0], arr[1]
		if len(arr) > 2 {
			_ = json.Unmarshal(arr[2], &side)
		}
	default:
		return price, size, "", false
	}

	price, okP := parseNumber(priceRaw)
	size, okS := parseNumber(sizeRaw)
	if !okP || !okS || size.IsNegative() {
		return price, size, "", false
	}
	return price, size, side, true
}

func parseNumber(raw json.RawMessage) (decimal.Decimal, bool) {
	r := bytes.TrimSpace(raw)
	if len(r) == 0 || bytes.Equal(r, []byte("null")) || bytes.Equal(r, []byte(`""`)) {
		return decimal.Zero, false
	}
	var v decimal.Decimal
	if err := v.UnmarshalJSON(r); err != nil {
		return decimal.Zero, false
	}
	return v, true
}

// parseSide maps "buy" to the bids; a missing or any other side is an ask.
func parseSide(s string) domain.Side {
	if strings.EqualFold(s, "buy") {
		return domain.SideBuy
	}
	return domain.SideSell
}

func isContainer(raw json.RawMessage) bool {
	r := bytes.TrimSpace(raw)
	return len(r) > 0 && (r[0] == '[' || r[0] == '{')
}

// orderBody is the JSON body of POST /orders/new.
type orderBody struct {
	ClientOrderID string `json:"clientOrderId"`
	PostOnly      bool   `json:"postOnly"`
	Price         string `json:"price"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	SubaccountID  int    `json:"subaccountId"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
}

// newMarketOrderBody builds the body of a market order. Size is rendered with
// five decimal places and price is "0".
func newMarketOrderBody(clientOrderID string, req domain.OrderRequest) orderBody {
	return orderBody{
		ClientOrderID: clientOrderID,
		PostOnly:      false,
		Price:         "0",
		ReduceOnly:    false,
		Side:          string(req.Side),
		Size:          req.Size.StringFixed(5),
		SubaccountID:  req.Subaccount,
		Symbol:        req.Symbol,
		Type:          string(domain.OrderTypeMarket),
	}
}
