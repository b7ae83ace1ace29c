package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type TickType int

// Subset of gateway tick types the engine looks at.
const (
	TickTypeBidSize  TickType = 0
	TickTypeBid      TickType = 1
	TickTypeAsk      TickType = 2
	TickTypeAskSize  TickType = 3
	TickTypeLast     TickType = 4
	TickTypeLastSize TickType = 5
	TickTypeVolume   TickType = 8
	TickTypeRTVolume TickType = 48
)

// RTVolumeTickList is the generic tick list requesting real time volume only.
const RTVolumeTickList = "233,mdoff"

// Tick is one parsed real time volume update. Missing values are NaN.
type Tick struct {
	Instrument *Instrument `json:"-"`
	Time       float64     `json:"time"` // seconds since epoch
	Price      float64     `json:"price"`
	Size       float64     `json:"size"`
	Volume     float64     `json:"volume"`
	VWAP       float64     `json:"vwap"`
	Single     bool        `json:"single"`
}

const rtVolumeFields = 5

// ParseRTVolume parses "price;size;timeMs;volume;vwap;single". Empty or malformed
// numeric fields become NaN. The payload must contain at least five fields.
func ParseRTVolume(value string) (Tick, error) {
	vals := strings.Split(value, ";")
	if len(vals) < rtVolumeFields {
		return Tick{}, fmt.Errorf("rt volume %q: want %d fields, got %d", value, rtVolumeFields, len(vals))
	}

	var nums [rtVolumeFields]float64
	for i := 0; i < rtVolumeFields; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(vals[i]), 64)
		if err != nil {
			f = math.NaN()
		}
		nums[i] = f
	}

	tick := Tick{
		Price:  nums[0],
		Size:   nums[1],
		Time:   nums[2] / 1000.0,
		Volume: nums[3],
		VWAP:   nums[4],
	}
	if len(vals) > rtVolumeFields {
		tick.Single = strings.EqualFold(strings.TrimSpace(vals[5]), "true") || strings.TrimSpace(vals[5]) == "1"
	}
	return tick, nil
}

// FormatRTVolume is the inverse of ParseRTVolume. NaN values are written as empty fields.
func FormatRTVolume(t Tick) string {
	f := func(v float64) string {
		if math.IsNaN(v) {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	single := "false"
	if t.Single {
		single = "true"
	}
	return strings.Join([]string{f(t.Price), f(t.Size), f(math.Round(t.Time * 1000)), f(t.Volume), f(t.VWAP), single}, ";")
}
