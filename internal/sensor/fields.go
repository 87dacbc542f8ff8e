package sensor

import "strconv"

// Sensor packet ids from the Create Open Interface sensor table.
const (
	BumpsAndWheelDrops     byte = 7
	Wall                   byte = 8
	CliffLeft              byte = 9
	CliffFrontLeft         byte = 10
	CliffFrontRight        byte = 11
	CliffRight             byte = 12
	VirtualWall            byte = 13
	Overcurrents           byte = 14
	Unused1                byte = 15
	Unused2                byte = 16
	InfraredByte           byte = 17
	Buttons                byte = 18
	Distance               byte = 19
	Angle                  byte = 20
	ChargingState          byte = 21
	Voltage                byte = 22
	Current                byte = 23
	BatteryTemperature     byte = 24
	BatteryCharge          byte = 25
	BatteryCapacity        byte = 26
	WallSignal             byte = 27
	CliffLeftSignal        byte = 28
	CliffFrontLeftSignal   byte = 29
	CliffFrontRightSignal  byte = 30
	CliffRightSignal       byte = 31
	CargoBayDigitalInputs  byte = 32
	CargoBayAnalogSignal   byte = 33
	ChargingSources        byte = 34
	OIMode                 byte = 35
	SongNumber             byte = 36
	SongPlaying            byte = 37
	NumberOfStreamPackets  byte = 38
	RequestedVelocity      byte = 39
	RequestedRadius        byte = 40
	RequestedRightVelocity byte = 41
	RequestedLeftVelocity  byte = 42
)

// Field describes how one sensor id is laid out on the wire.
type Field struct {
	Name   string
	Width  int  // value bytes following the id byte
	Signed bool // documented as two's complement; decoding stays unsigned
}

// fieldTable is indexed by sensor id. Ids without an entry have Width 0 and
// fail to decode.
var fieldTable = [256]Field{
	BumpsAndWheelDrops:     {Name: "bumps_wheel_drops", Width: 1},
	Wall:                   {Name: "wall", Width: 1},
	CliffLeft:              {Name: "cliff_left", Width: 1},
	CliffFrontLeft:         {Name: "cliff_front_left", Width: 1},
	CliffFrontRight:        {Name: "cliff_front_right", Width: 1},
	CliffRight:             {Name: "cliff_right", Width: 1},
	VirtualWall:            {Name: "virtual_wall", Width: 1},
	Overcurrents:           {Name: "overcurrents", Width: 1},
	Unused1:                {Name: "unused_15", Width: 1},
	Unused2:                {Name: "unused_16", Width: 1},
	InfraredByte:           {Name: "ir_byte", Width: 1},
	Buttons:                {Name: "buttons", Width: 1},
	Distance:               {Name: "distance", Width: 2, Signed: true},
	Angle:                  {Name: "angle", Width: 2, Signed: true},
	ChargingState:          {Name: "charging_state", Width: 1},
	Voltage:                {Name: "voltage", Width: 2},
	Current:                {Name: "current", Width: 2, Signed: true},
	BatteryTemperature:     {Name: "battery_temperature", Width: 1, Signed: true},
	BatteryCharge:          {Name: "battery_charge", Width: 2},
	BatteryCapacity:        {Name: "battery_capacity", Width: 2},
	WallSignal:             {Name: "wall_signal", Width: 2},
	CliffLeftSignal:        {Name: "cliff_left_signal", Width: 2},
	CliffFrontLeftSignal:   {Name: "cliff_front_left_signal", Width: 2},
	CliffFrontRightSignal:  {Name: "cliff_front_right_signal", Width: 2},
	CliffRightSignal:       {Name: "cliff_right_signal", Width: 2},
	CargoBayDigitalInputs:  {Name: "cargo_bay_digital", Width: 1},
	CargoBayAnalogSignal:   {Name: "cargo_bay_analog", Width: 2},
	ChargingSources:        {Name: "charging_sources", Width: 1},
	OIMode:                 {Name: "oi_mode", Width: 1},
	SongNumber:             {Name: "song_number", Width: 1},
	SongPlaying:            {Name: "song_playing", Width: 1},
	NumberOfStreamPackets:  {Name: "stream_packets", Width: 1},
	RequestedVelocity:      {Name: "requested_velocity", Width: 2, Signed: true},
	RequestedRadius:        {Name: "requested_radius", Width: 2, Signed: true},
	RequestedRightVelocity: {Name: "requested_right_velocity", Width: 2, Signed: true},
	RequestedLeftVelocity:  {Name: "requested_left_velocity", Width: 2, Signed: true},
}

// FieldFor returns the table entry for id and whether the id is decodable.
func FieldFor(id byte) (Field, bool) {
	f := fieldTable[id]
	return f, f.Width == 1 || f.Width == 2
}

// FieldWidth returns the value width for id, or 0 if unknown.
func FieldWidth(id byte) int {
	return fieldTable[id].Width
}

// FieldName returns a stable name for id. Unknown ids get "sensor_<id>".
func FieldName(id byte) string {
	if f, ok := FieldFor(id); ok {
		return f.Name
	}
	return "sensor_" + strconv.Itoa(int(id))
}

// SensorValue is one decoded (id, value) pair.
type SensorValue struct {
	ID    byte
	Value int
}

// Signed reinterprets the raw value as two's complement when the field is
// documented as signed. The pipeline itself never calls this.
func (v SensorValue) Signed() int {
	f, ok := FieldFor(v.ID)
	if !ok || !f.Signed {
		return v.Value
	}
	if f.Width == 1 {
		return int(int8(uint8(v.Value)))
	}
	return int(int16(uint16(v.Value)))
}

// FieldID resolves a field name, or a decimal id, to its sensor id.
func FieldID(name string) (byte, bool) {
	for id, f := range fieldTable {
		if f.Width != 0 && f.Name == name {
			return byte(id), true
		}
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 || n > 255 {
		return 0, false
	}
	_, ok := FieldFor(byte(n))
	return byte(n), ok
}
