package chathub_test

import (
	"chatrelay/backend/internal/presence/presencetest"
)

// fakeClient is a chathub.Client that records deliveries instead of writing
// to a socket.
type fakeClient struct {
	*presencetest.Conn
	userID uint
}

func newFakeClient(handle string, userID uint) *fakeClient {
	return &fakeClient{Conn: presencetest.NewConn(handle), userID: userID}
}

func (c *fakeClient) Identity() uint { return c.userID }
func (c *fakeClient) Run()           {}
