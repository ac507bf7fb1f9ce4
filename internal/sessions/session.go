package sessions

import "time"

// Session is a short-lived token a browser client presents during the
// websocket auth handshake. Sessions are issued at the login boundary and
// expire server-side.
type Session struct {
	Token     string    `bson:"_id" json:"token"`
	UserID    string    `bson:"userId" json:"userId"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
