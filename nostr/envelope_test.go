package nostr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNegEnvelopes(t *testing.T) {
	require.JSONEq(t,
		`["NEG-OPEN","sub1",{"kinds":[0,3]},"6100"]`,
		string(NegOpen("sub1", Filter{Kinds: []int{0, 3}}, []byte{0x61, 0x00})))
	require.JSONEq(t, `["NEG-MSG","sub1","61"]`, string(NegMsg("sub1", []byte{0x61})))
	require.JSONEq(t, `["NEG-CLOSE","sub1"]`, string(NegClose("sub1")))
	require.JSONEq(t, `["NEG-ERR","sub1","blocked: no"]`, string(NegErr("sub1", "blocked: no")))
	require.JSONEq(t, `["REQ","s",{"ids":["aa"]}]`, string(Req("s", Filter{IDs: []string{"aa"}})))
	require.JSONEq(t, `["CLOSE","s"]`, string(Close("s")))
	require.JSONEq(t, `["EOSE","s"]`, string(EOSE("s")))
	require.JSONEq(t, `["CLOSED","s","error: x"]`, string(Closed("s", "error: x")))
	require.JSONEq(t, `["NOTICE","hi"]`, string(Notice("hi")))
	require.JSONEq(t, `["EVENT","s",{"id":"x"}]`, string(SubEvent("s", json.RawMessage(`{"id":"x"}`))))
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`["NEG-MSG","sub1","61ff"]`))
	require.NoError(t, err)
	require.Equal(t, LabelNegMsg, env.Label)
	sub, ok := env.SubID()
	require.True(t, ok)
	require.Equal(t, "sub1", sub)
	msg, err := env.Hex(1)
	require.NoError(t, err)
	require.Equal(t, []byte{0x61, 0xff}, msg)

	_, err = env.Hex(2)
	require.ErrorIs(t, err, ErrBadEnvelope)

	env, err = ParseEnvelope(NegOpen("s", Filter{Kinds: []int{7}}, nil))
	require.NoError(t, err)
	f, err := env.Filter(1)
	require.NoError(t, err)
	require.Equal(t, []int{7}, f.Kinds)

	env, err = ParseEnvelope([]byte(`["NOTICE","hello"]`))
	require.NoError(t, err)
	_, ok = env.SubID()
	require.False(t, ok)

	env, err = ParseEnvelope([]byte(`["EVENT",{"id":"x","kind":1}]`))
	require.NoError(t, err)
	_, ok = env.SubID()
	require.False(t, ok, "client EVENT has no subscription")

	env, err = ParseEnvelope([]byte(`["EVENT","s",{"id":"x","kind":1}]`))
	require.NoError(t, err)
	sub, ok = env.SubID()
	require.True(t, ok)
	require.Equal(t, "s", sub)
	ev, raw, err := env.Event(1)
	require.NoError(t, err)
	require.Equal(t, 1, ev.Kind)
	require.JSONEq(t, `{"id":"x","kind":1}`, string(raw))

	for _, bad := range []string{``, `{}`, `[]`, `[1,2]`, `["X"`} {
		_, err := ParseEnvelope([]byte(bad))
		require.ErrorIs(t, err, ErrBadEnvelope, bad)
	}
}
