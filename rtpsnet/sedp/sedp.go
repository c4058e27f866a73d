// Package sedp implements the simple endpoint discovery descriptors
// exchanged between participants on the builtin discovery endpoints:
// CBOR-serialized snapshots of a writer or reader's GUID, QoS, and
// locator set.
package sedp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/go-rtps/engine/rtpsnet/guid"
	"github.com/go-rtps/engine/rtpsnet/locator"
	"github.com/go-rtps/engine/rtpsnet/qos"
)

// DescriptorVersion identifies the wire shape of EndpointDescriptor, so
// a future incompatible layout change can be detected instead of
// silently misparsed.
const DescriptorVersion = "v0"

// EndpointDescriptor announces one local writer or reader to the rest
// of the domain.
type EndpointDescriptor struct {
	Version       string          `cbor:"version"`
	EndpointGUID  guid.GUID       `cbor:"guid"`
	ParticipantGUID guid.GUID     `cbor:"participant_guid"`
	TopicName     string          `cbor:"topic"`
	TypeName      string          `cbor:"type_name"`
	QoS           qos.Snapshot    `cbor:"qos"`
	Locators      locator.List    `cbor:"locators"`
}

// Marshal serializes d to CBOR.
func (d *EndpointDescriptor) Marshal() ([]byte, error) {
	d.Version = DescriptorVersion
	out, err := cbor.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("sedp: marshal: %w", err)
	}
	return out, nil
}

// Unmarshal parses a CBOR-encoded EndpointDescriptor, rejecting an
// unrecognized version.
func Unmarshal(data []byte) (*EndpointDescriptor, error) {
	var d EndpointDescriptor
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("sedp: unmarshal: %w", err)
	}
	if d.Version != DescriptorVersion {
		return nil, fmt.Errorf("sedp: unsupported descriptor version %q", d.Version)
	}
	return &d, nil
}
