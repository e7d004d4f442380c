package client

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meshfield/meshmap/internal/monitoring"
	"github.com/meshfield/meshmap/internal/timeutil"
)

// hdopToMetres converts a GGA horizontal dilution of precision into an
// approximate accuracy radius, assuming a 5m user-equivalent range error.
const hdopToMetres = 5.0

// NMEASource replays GGA sentences from a recorded NMEA log, emitting one
// fix per sentence on a fixed cadence. Sentences with no position lock and
// non-GGA sentence types are skipped.
type NMEASource struct {
	Path     string
	Interval time.Duration
	Clock    timeutil.Clock
}

func (s *NMEASource) Watch(ctx context.Context) (<-chan Fix, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NMEA log: %w", err)
	}

	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	out := make(chan Fix)
	go func() {
		defer close(out)
		defer f.Close()

		ticker := clock.NewTicker(interval)
		defer ticker.Stop()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			fix, ok := parseGGA(strings.TrimSpace(scanner.Text()))
			if !ok {
				continue
			}
			fix.Time = clock.Now()
			select {
			case out <- fix:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			monitoring.Logf("error reading NMEA log: %v", err)
		}
	}()
	return out, nil
}

// parseGGA extracts a position fix from one GGA sentence, e.g.
//
//	$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47
//
// Any talker prefix is accepted (GP, GN, GL). Returns ok=false for other
// sentence types, bad checksums, and fixes with quality 0.
func parseGGA(line string) (Fix, bool) {
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}
	body := line[1:]
	if star := strings.IndexByte(body, '*'); star >= 0 {
		want, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil {
			return Fix{}, false
		}
		var sum byte
		for i := 0; i < star; i++ {
			sum ^= body[i]
		}
		if sum != byte(want) {
			return Fix{}, false
		}
		body = body[:star]
	}

	fields := strings.Split(body, ",")
	if len(fields) < 10 || !strings.HasSuffix(fields[0], "GGA") {
		return Fix{}, false
	}
	if quality, err := strconv.Atoi(fields[6]); err != nil || quality == 0 {
		return Fix{}, false
	}

	lat, err := parseCoordinate(fields[2], fields[3])
	if err != nil {
		return Fix{}, false
	}
	lon, err := parseCoordinate(fields[4], fields[5])
	if err != nil {
		return Fix{}, false
	}

	fix := Fix{Latitude: lat, Longitude: lon}
	if alt, err := strconv.ParseFloat(fields[9], 64); err == nil {
		fix.Altitude = &alt
	}
	if hdop, err := strconv.ParseFloat(fields[8], 64); err == nil && hdop > 0 {
		acc := hdop * hdopToMetres
		fix.Accuracy = &acc
	}
	return fix, true
}

// parseCoordinate converts NMEA ddmm.mmmm notation plus a hemisphere letter
// into signed decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	raw, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	degrees := float64(int(raw / 100))
	minutes := raw - degrees*100
	deg := degrees + minutes/60

	switch hemisphere {
	case "N", "E":
		return deg, nil
	case "S", "W":
		return -deg, nil
	}
	return 0, fmt.Errorf("unknown hemisphere %q", hemisphere)
}
