package ingest

import (
	"testing"
	"time"

	"github.com/hlwatch/engine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fillFrame = `{
  "channel": "userFills",
  "data": {
    "user": "0xAbC",
    "isSnapshot": true,
    "fills": [
      {"coin":"BTC","px":"97123.5","sz":"0.01","side":"A","time":1736001121000,
       "startPosition":"0.01","dir":"Close Long","closedPnl":"152.456",
       "hash":"0xdeadbeef","oid":42,"crossed":true,"fee":"0.1","tid":7},
      {"coin":"ETH","px":"3300","sz":"1","side":"B","time":1736001122000,
       "dir":"","closedPnl":"0.0","hash":"0xfeed","oid":43}
    ]
  }
}`

func TestParseMessage_UserFills(t *testing.T) {
	trades, channel, err := ParseMessage("0xabc", []byte(fillFrame))
	require.NoError(t, err)
	assert.Equal(t, ChannelUserFills, channel)
	require.Len(t, trades, 2)

	first := trades[0]
	assert.Equal(t, "0xabc", first.Address, "trades carry the subscribed address")
	assert.Equal(t, "0xdeadbeef", first.TxHash)
	assert.Equal(t, "BTC", first.Coin)
	assert.Equal(t, "97123.5", first.Price.String())
	assert.Equal(t, "0.01", first.Size.String())
	assert.Equal(t, "Close Long", first.Direction)
	assert.Equal(t, store.KindFill, first.Kind)
	assert.True(t, first.Snapshot)
	assert.True(t, first.Timestamp.Equal(time.UnixMilli(1736001121000)))
	require.NotNil(t, first.ClosedPnL)
	assert.Equal(t, "152.456", first.ClosedPnL.String())

	second := trades[1]
	assert.Equal(t, "Buy", second.Direction, "falls back to side when dir is empty")
	require.NotNil(t, second.ClosedPnL)
	assert.True(t, second.ClosedPnL.IsZero())
}

func TestParseMessage_SkipsFillsWithoutHash(t *testing.T) {
	frame := `{"channel":"userFills","data":{"user":"0xabc","fills":[{"coin":"BTC","px":"1","sz":"1"}]}}`
	trades, _, err := ParseMessage("0xabc", []byte(frame))
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestParseMessage_OrderUpdates(t *testing.T) {
	frame := `{"channel":"orderUpdates","data":[
	  {"order":{"coin":"SOL","side":"B","limitPx":"180.5","sz":"10","oid":99,"timestamp":1736001000000},
	   "status":"open","statusTimestamp":1736001001000},
	  {"order":{"coin":"SOL","side":"A","limitPx":"181","sz":"0","origSz":"5","oid":100,"timestamp":1736001000000},
	   "status":"canceled","statusTimestamp":0},
	  {"order":{"coin":"SOL","side":"B","limitPx":"180.5","sz":"0","oid":99},"status":"filled","statusTimestamp":1736001002000},
	  {"order":{"coin":"SOL","side":"B","limitPx":"1","sz":"1","oid":101},"status":"rejected","statusTimestamp":1736001003000}
	]}`

	trades, channel, err := ParseMessage("0xabc", []byte(frame))
	require.NoError(t, err)
	assert.Equal(t, ChannelOrderUpdates, channel)
	require.Len(t, trades, 4)

	assert.Equal(t, store.KindOrderPlaced, trades[0].Kind)
	assert.Equal(t, "order:99:open", trades[0].TxHash)
	assert.Equal(t, "0xabc", trades[0].Address)
	assert.Equal(t, "Buy", trades[0].Direction)
	assert.Equal(t, "180.5", trades[0].Price.String())
	assert.True(t, trades[0].Timestamp.Equal(time.UnixMilli(1736001001000)))

	assert.Equal(t, store.KindOrderCancelled, trades[1].Kind)
	assert.Equal(t, "Sell", trades[1].Direction)
	assert.True(t, trades[1].Timestamp.Equal(time.UnixMilli(1736001000000)), "falls back to order timestamp")

	assert.Equal(t, store.KindOrderFilled, trades[2].Kind)
	assert.Equal(t, "order:99:filled", trades[2].TxHash)
	assert.Equal(t, store.KindOrderOther, trades[3].Kind)

	for _, tr := range trades {
		assert.Nil(t, tr.ClosedPnL)
		assert.False(t, tr.IsFill())
	}
}

func TestParseMessage_ControlChannels(t *testing.T) {
	for _, frame := range []string{
		`{"channel":"pong"}`,
		`{"channel":"subscriptionResponse","data":{"method":"subscribe","subscription":{"type":"userFills","user":"0xabc"}}}`,
		`{"channel":"somethingNew","data":{}}`,
	} {
		trades, _, err := ParseMessage("0xabc", []byte(frame))
		assert.NoError(t, err, frame)
		assert.Empty(t, trades, frame)
	}
}

func TestParseMessage_ErrorFrame(t *testing.T) {
	_, channel, err := ParseMessage("0xabc", []byte(`{"channel":"error","data":"Invalid subscription"}`))
	assert.Equal(t, ChannelError, channel)

	var feedErr *FeedError
	require.ErrorAs(t, err, &feedErr)
	assert.Equal(t, "Invalid subscription", feedErr.Message)
}

func TestParseMessage_Malformed(t *testing.T) {
	_, _, err := ParseMessage("0xabc", []byte(`not json`))
	assert.Error(t, err)

	_, _, err = ParseMessage("0xabc", []byte(`{"channel":"userFills","data":[1,2]}`))
	assert.Error(t, err)
}

func TestKeepAliveFromMode(t *testing.T) {
	ka, err := KeepAliveFromMode("json", 0)
	require.NoError(t, err)
	assert.Equal(t, JSONPing{Every: DefaultKeepAliveInterval}, ka)

	ka, err = KeepAliveFromMode(" Control ", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ka.Interval())
	assert.IsType(t, ControlPing{}, ka)

	ka, err = KeepAliveFromMode("none", time.Second)
	require.NoError(t, err)
	assert.Zero(t, ka.Interval())

	_, err = KeepAliveFromMode("carrier-pigeon", time.Second)
	assert.Error(t, err)
}
