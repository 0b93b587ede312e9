package mqttinput

import (
	"testing"

	"github.com/nodebridge/matter-bridge/pkg/clusters/humiditymeasurement"
	"github.com/nodebridge/matter-bridge/pkg/clusters/tempmeasurement"
)

// fakeMessage implements mqtt.Message with just enough to exercise
// handleMessage.
type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "zigbee2mqtt/living_room_sensor" }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestClimateDeviceParsesStatePayload(t *testing.T) {
	temp := tempmeasurement.New(tempmeasurement.Config{EndpointID: 1})
	humidity := humiditymeasurement.New(humiditymeasurement.Config{EndpointID: 1})
	d := NewClimateDevice("living_room_sensor", temp, humidity, nil)

	msg := &fakeMessage{payload: []byte(`{"temperature": 21.5, "humidity": 47.25}`)}
	d.handleMessage(nil, msg)

	gotTemp := temp.GetValue()
	if gotTemp == nil || *gotTemp != 2150 {
		t.Errorf("temperature = %v, want 2150", gotTemp)
	}

	gotHumidity := humidity.GetValue()
	if gotHumidity == nil || *gotHumidity != 4725 {
		t.Errorf("humidity = %v, want 4725", gotHumidity)
	}
}

func TestClimateDeviceIgnoresMalformedPayload(t *testing.T) {
	temp := tempmeasurement.New(tempmeasurement.Config{EndpointID: 1})
	d := NewClimateDevice("living_room_sensor", temp, nil, nil)

	msg := &fakeMessage{payload: []byte(`not json`)}
	d.handleMessage(nil, msg)

	if temp.GetValue() != nil {
		t.Errorf("expected no value set after malformed payload, got %v", temp.GetValue())
	}
}

func TestStateTopic(t *testing.T) {
	d := NewClimateDevice("living_room_sensor", nil, nil, nil)
	want := "zigbee2mqtt/living_room_sensor"
	if got := d.StateTopic(); got != want {
		t.Errorf("StateTopic() = %q, want %q", got, want)
	}
}
