package sedp

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/locator"
	"github.com/go-rtps/engine/rtpsnet/qos"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	d := &EndpointDescriptor{
		EndpointGUID:    guid.GUID{Entity: guid.NewEntityId([3]byte{1, 2, 3}, guid.KindUserWriterNoKey)},
		ParticipantGUID: guid.GUID{Prefix: guid.Prefix{9}},
		TopicName:       "temperature",
		TypeName:        "SensorSample",
		QoS: qos.Snapshot{
			Reliability:  qos.Reliable,
			Durability:   qos.TransientLocal,
			History:      qos.KeepLast,
			HistoryDepth: 10,
		},
		Locators: locator.List{
			{Kind: locator.KindUDPv4, Port: 7400},
		},
	}

	data, err := d.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, d.TopicName, got.TopicName)
	require.Equal(t, d.QoS, got.QoS)
	require.Equal(t, d.Locators, got.Locators)
	require.True(t, got.EndpointGUID.Equal(d.EndpointGUID))
}

func TestUnmarshalRejectsUnknownVersion(t *testing.T) {
	bad := EndpointDescriptor{Version: "v99", TopicName: "x"}
	raw, err := cbor.Marshal(&bad)
	require.NoError(t, err)

	_, err = Unmarshal(raw)
	require.Error(t, err)
}
