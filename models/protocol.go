package models

import "encoding/json"

// Client -> server frame types.
const (
	MsgRegister             = "register"
	MsgLogin                = "login"
	MsgAuthenticate         = "authenticate"
	MsgRequestPasswordReset = "request_password_reset"
	MsgResetPassword        = "reset_password"
	MsgPong                 = "pong"
	MsgChangeLocation       = "change_location"
	MsgChat                 = "chat"
	MsgAction               = "action"
	MsgVerifyEmail          = "verify_email"
	MsgResendVerification   = "resend_verification"
	MsgAddEmail             = "add_email"
	MsgAuctionCreate        = "auction_create"
	MsgAuctionBid           = "auction_bid"
	MsgAuctionCancel        = "auction_cancel"
	MsgAuctionGet           = "auction_get"
)

// Server -> client frame types.
const (
	MsgConnected          = "connected"
	MsgPing               = "ping"
	MsgAuthSuccess        = "auth_success"
	MsgAuthFailed         = "auth_failed"
	MsgPlayerConnected    = "player_connected"
	MsgPlayerDisconnected = "player_disconnected"
	MsgPlayerJoined       = "player_joined"
	MsgPlayerLeft         = "player_left"
	MsgPlayerUpdated      = "player_updated"
	MsgLocationChanged    = "location_changed"
	MsgChatMessage        = "chat_message"
	MsgActionResult       = "action_result"
	MsgGameEvent          = "game_event"
	MsgAuctionNew         = "auction_new"
	MsgAuctionBidPlaced   = "auction_bid_placed"
	MsgAuctionOutbid      = "auction_outbid"
	MsgAuctionClosed      = "auction_closed"
	MsgAuctionCancelled   = "auction_cancelled"
	MsgError              = "error"
)

// Frame is the inbound wire envelope. Payload fields stay raw until the
// route for Type decodes them.
type Frame struct {
	Type string `json:"type"`
	json.RawMessage
}

// UnmarshalJSON keeps the whole frame body around so handlers can decode
// their own payload shape from it.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	f.Type = head.Type
	f.RawMessage = append(f.RawMessage[:0], data...)
	return nil
}

// Outbound builds a server->client frame from a type tag and a payload map.
func Outbound(msgType string, payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["type"] = msgType
	return out
}
