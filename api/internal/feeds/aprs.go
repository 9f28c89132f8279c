package feeds

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sentinelai-backend/shared/events"
)

var (
	ErrMalformedPacket = errors.New("malformed aprs packet")

	positionRe = regexp.MustCompile(`^(\d{4,5}\.\d{2})([NS])(.)(\d{5}\.\d{2})([EW])(.?)`)
	altitudeRe = regexp.MustCompile(`/A=(-?\d{6})`)
)

const feetToMeters = 0.3048

// Packet is one decoded APRS-IS line.
type Packet struct {
	Source      string
	Destination string
	Path        []string
	Body        string
	Position    *events.GeoPoint
	SymbolTable string
	Symbol      string
	Comment     string
	AltitudeM   *float64
	Raw         string
}

// ParsePacket decodes "SRC>DEST[,PATH...]:BODY". Bodies without an
// uncompressed position still parse; only a broken header is an error.
func ParsePacket(line string) (Packet, error) {
	raw := strings.TrimRight(line, "\r\n")
	header, body, ok := strings.Cut(raw, ":")
	if !ok {
		return Packet{}, fmt.Errorf("%w: missing body separator", ErrMalformedPacket)
	}
	src, route, ok := strings.Cut(header, ">")
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		return Packet{}, fmt.Errorf("%w: missing source callsign", ErrMalformedPacket)
	}
	hops := strings.Split(route, ",")
	dest := strings.TrimSpace(hops[0])
	if dest == "" {
		return Packet{}, fmt.Errorf("%w: missing destination", ErrMalformedPacket)
	}

	p := Packet{
		Source:      src,
		Destination: dest,
		Path:        hops[1:],
		Body:        body,
		Raw:         raw,
	}
	p.parsePosition(body)
	if m := altitudeRe.FindStringSubmatch(body); m != nil {
		if ft, err := strconv.Atoi(m[1]); err == nil {
			alt := float64(ft) * feetToMeters
			p.AltitudeM = &alt
		}
	}
	return p, nil
}

func (p *Packet) parsePosition(body string) {
	if body == "" {
		return
	}
	switch body[0] {
	case '!', '=':
		body = body[1:]
	case '/', '@':
		// 7 character timestamp follows the type indicator
		if len(body) < 8 {
			return
		}
		body = body[8:]
	}
	m := positionRe.FindStringSubmatch(body)
	if m == nil {
		return
	}
	lat, ok := degreesMinutes(m[1], m[2] == "S")
	if !ok || lat < -90 || lat > 90 {
		return
	}
	lon, ok := degreesMinutes(m[4], m[5] == "W")
	if !ok || lon < -180 || lon > 180 {
		return
	}
	p.Position = &events.GeoPoint{Lat: lat, Lon: lon}
	p.SymbolTable = m[3]
	p.Symbol = m[6]
	p.Comment = strings.TrimSpace(body[len(m[0]):])
}

// degreesMinutes converts "ddmm.mm" or "dddmm.mm".
func degreesMinutes(raw string, negative bool) (float64, bool) {
	if len(raw) < 6 {
		return 0, false
	}
	deg, err := strconv.ParseFloat(raw[:len(raw)-5], 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(raw[len(raw)-5:], 64)
	if err != nil || minutes >= 60 {
		return 0, false
	}
	v := deg + minutes/60
	if negative {
		v = -v
	}
	return v, true
}

// Event converts the packet into a radio_packet event.
func (p Packet) Event(missionID string) events.Event {
	path := make([]any, 0, len(p.Path))
	for _, hop := range p.Path {
		path = append(path, hop)
	}
	payload := map[string]any{
		"source_callsign": p.Source,
		"dest_callsign":   p.Destination,
		"path":            path,
		"text":            p.Body,
		"raw_packet":      p.Raw,
	}
	if p.Comment != "" {
		payload["comment"] = p.Comment
	}
	if p.Symbol != "" {
		payload["symbol"] = p.SymbolTable + p.Symbol
	}
	if p.AltitudeM != nil {
		payload["altitude_m"] = *p.AltitudeM
	}
	var loc *events.GeoPoint
	if p.Position != nil {
		v := *p.Position
		loc = &v
	}
	return events.Event{
		EventType: events.TypeRadioPacket,
		MissionID: missionID,
		Location:  loc,
		Payload:   payload,
		Metadata:  map[string]any{"source": events.SourceAPRS},
	}
}
