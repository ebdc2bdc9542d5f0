package firmata

// Firmata command bytes. Commands below 0xF0 carry a channel in the low
// nibble.
const (
	analogMessage    = 0xE0
	digitalMessage   = 0x90
	reportAnalog     = 0xC0
	reportDigital    = 0xD0
	setPinMode       = 0xF4
	reportVersion    = 0xF9
	startSysex       = 0xF0
	endSysex         = 0xF7
	samplingInterval = 0x7A
	reportFirmware   = 0x79
)

// Message is one decoded Firmata message.
type Message struct {
	Command byte // command with the channel nibble cleared, or the sysex id
	Channel byte
	Data    []byte
	Sysex   bool
}

// AnalogValue joins the two 7-bit data bytes of an analog message.
func (m Message) AnalogValue() int {
	if len(m.Data) < 2 {
		return 0
	}
	return int(m.Data[0]&0x7F) | int(m.Data[1]&0x7F)<<7
}

// IsVersion reports whether m answers a version query.
func (m Message) IsVersion() bool {
	if m.Sysex {
		return m.Command == reportFirmware
	}
	return m.Command == reportVersion
}

// dataLength is the number of data bytes that follow a command byte.
func dataLength(cmd byte) int {
	if cmd < 0xF0 {
		switch cmd & 0xF0 {
		case analogMessage, digitalMessage:
			return 2
		case reportAnalog, reportDigital:
			return 1
		}
		return 0
	}
	switch cmd {
	case reportVersion, setPinMode:
		return 2
	}
	return 0
}

// Parser reassembles messages from a byte stream. Data bytes that arrive
// without a command are dropped.
type Parser struct {
	cmd     byte
	want    int
	data    []byte
	inSysex bool
}

// Feed consumes p and calls emit for each complete message.
func (p *Parser) Feed(b []byte, emit func(Message)) {
	for _, c := range b {
		if p.inSysex {
			if c != endSysex {
				p.data = append(p.data, c)
				continue
			}
			p.inSysex = false
			if len(p.data) > 0 {
				emit(Message{Command: p.data[0], Data: append([]byte(nil), p.data[1:]...), Sysex: true})
			}
			p.data = p.data[:0]
			continue
		}

		if c&0x80 != 0 {
			p.data = p.data[:0]
			if c == startSysex {
				p.inSysex = true
				p.want = 0
				continue
			}
			p.cmd = c
			p.want = dataLength(c)
			if p.want == 0 {
				p.emit(emit)
			}
			continue
		}

		if p.want == 0 {
			continue
		}
		p.data = append(p.data, c)
		if len(p.data) == p.want {
			p.emit(emit)
		}
	}
}

func (p *Parser) emit(emit func(Message)) {
	m := Message{Command: p.cmd, Data: append([]byte(nil), p.data...)}
	if p.cmd < 0xF0 {
		m.Command = p.cmd & 0xF0
		m.Channel = p.cmd & 0x0F
	}
	p.data = p.data[:0]
	p.want = 0
	emit(m)
}

// Reset drops any partially received message.
func (p *Parser) Reset() {
	p.data = p.data[:0]
	p.want = 0
	p.inSysex = false
}

func queryVersion() []byte {
	return []byte{reportVersion}
}

func setSamplingInterval(ms int) []byte {
	return []byte{startSysex, samplingInterval, byte(ms & 0x7F), byte((ms >> 7) & 0x7F), endSysex}
}

func enableAnalogReport(pin int, on bool) []byte {
	var v byte
	if on {
		v = 1
	}
	return []byte{reportAnalog | byte(pin&0x0F), v}
}
