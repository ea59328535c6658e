// Package sidecar decodes BIDS-style JSON sidecars that accompany NIfTI
// images. Only the keys the tools consume are modelled; every access goes
// through a fixed set of Key values so a missing key is reported as a
// MissingKeyError rather than a zero value.
package sidecar

import (
	"fmt"
	"math"
	"os"

	jsoniter "github.com/json-iterator/go"

	"dmritools/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key names a sidecar field.
type Key string

const (
	ShimSetting                 Key = "ShimSetting"
	SliceTiming                 Key = "SliceTiming"
	EchoTime                    Key = "EchoTime"
	RepetitionTime              Key = "RepetitionTime"
	FlipAngle                   Key = "FlipAngle"
	TxRefAmp                    Key = "TxRefAmp"
	EchoTrainLength             Key = "EchoTrainLength"
	EffectiveEchoSpacing        Key = "EffectiveEchoSpacing"
	TotalReadoutTime            Key = "TotalReadoutTime"
	PixelBandwidth              Key = "PixelBandwidth"
	DwellTime                   Key = "DwellTime"
	MultibandAccelerationFactor Key = "MultibandAccelerationFactor"
)

// Sidecar holds the acquisition parameters read from a JSON sidecar. Nil
// fields were absent (or null) in the document.
type Sidecar struct {
	ShimSetting                 []float64
	SliceTiming                 []float64
	EchoTime                    *float64
	RepetitionTime              *float64
	FlipAngle                   *float64
	TxRefAmp                    *float64
	EchoTrainLength             *float64
	EffectiveEchoSpacing        *float64
	TotalReadoutTime            *float64
	PixelBandwidth              *float64
	DwellTime                   *float64
	MultibandAccelerationFactor *float64

	// Source is the file the sidecar was read from, used in error messages.
	Source string

	// invalid records keys present in the document whose value could not be
	// decoded. The error is reported when the key is read.
	invalid map[Key]string
}

// MissingKeyError reports a required key that is absent from a sidecar.
type MissingKeyError struct {
	Key    Key
	Source string
}

func (e *MissingKeyError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%v: %q", models.ErrMissingKey, string(e.Key))
	}
	return fmt.Sprintf("%v: %q in %s", models.ErrMissingKey, string(e.Key), e.Source)
}

func (e *MissingKeyError) Unwrap() error {
	return models.ErrMissingKey
}

// InvalidValueError reports a key whose value has the wrong type or holds
// null elements.
type InvalidValueError struct {
	Key    Key
	Source string
	Reason string
}

func (e *InvalidValueError) Error() string {
	msg := fmt.Sprintf("%v: %q: %s", models.ErrInvalidValue, string(e.Key), e.Reason)
	if e.Source != "" {
		msg += " in " + e.Source
	}
	return msg
}

func (e *InvalidValueError) Unwrap() error {
	return models.ErrInvalidValue
}

// Parse decodes a sidecar document. Only malformed JSON fails here; a key
// with an unusable value fails when it is read.
func Parse(b []byte) (*Sidecar, error) {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("error parsing sidecar: %w", err)
	}

	s := new(Sidecar)
	for _, key := range []Key{ShimSetting, SliceTiming} {
		vec, err := decodeVector(raw[string(key)])
		if err != nil {
			s.markInvalid(key, err.Error())
			continue
		}
		*s.vector(key) = vec
	}
	for _, key := range []Key{
		EchoTime, RepetitionTime, FlipAngle, TxRefAmp, EchoTrainLength,
		EffectiveEchoSpacing, TotalReadoutTime, PixelBandwidth, DwellTime,
		MultibandAccelerationFactor,
	} {
		msg, ok := raw[string(key)]
		if !ok {
			continue
		}
		var v *float64
		if err := json.Unmarshal(msg, &v); err != nil {
			s.markInvalid(key, "expected a number")
			continue
		}
		*s.scalar(key) = v
	}
	return s, nil
}

// decodeVector decodes a list of numbers. Absent and null lists decode to
// nil; null elements are rejected.
func decodeVector(msg jsoniter.RawMessage) ([]float64, error) {
	if msg == nil {
		return nil, nil
	}
	var elems []*float64
	if err := json.Unmarshal(msg, &elems); err != nil {
		return nil, fmt.Errorf("expected a list of numbers")
	}
	if elems == nil {
		return nil, nil
	}
	vec := make([]float64, len(elems))
	for i, e := range elems {
		if e == nil {
			return nil, fmt.Errorf("element %d is null", i)
		}
		vec[i] = *e
	}
	return vec, nil
}

func (s *Sidecar) markInvalid(key Key, reason string) {
	if s.invalid == nil {
		s.invalid = make(map[Key]string)
	}
	s.invalid[key] = reason
}

// check returns the decoding error recorded for key, if any.
func (s *Sidecar) check(key Key) error {
	if reason, ok := s.invalid[key]; ok {
		return &InvalidValueError{Key: key, Source: s.Source, Reason: reason}
	}
	return nil
}

// Load reads and decodes a sidecar file.
func Load(path string) (*Sidecar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading sidecar: %w", err)
	}
	s, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Source = path
	return s, nil
}

func (s *Sidecar) vector(key Key) *[]float64 {
	switch key {
	case ShimSetting:
		return &s.ShimSetting
	case SliceTiming:
		return &s.SliceTiming
	}
	return nil
}

func (s *Sidecar) scalar(key Key) **float64 {
	switch key {
	case EchoTime:
		return &s.EchoTime
	case RepetitionTime:
		return &s.RepetitionTime
	case FlipAngle:
		return &s.FlipAngle
	case TxRefAmp:
		return &s.TxRefAmp
	case EchoTrainLength:
		return &s.EchoTrainLength
	case EffectiveEchoSpacing:
		return &s.EffectiveEchoSpacing
	case TotalReadoutTime:
		return &s.TotalReadoutTime
	case PixelBandwidth:
		return &s.PixelBandwidth
	case DwellTime:
		return &s.DwellTime
	case MultibandAccelerationFactor:
		return &s.MultibandAccelerationFactor
	}
	return nil
}

// Array returns the value of a numeric key as an array: vectors for list
// valued keys and scalars otherwise.
func (s *Sidecar) Array(key Key) (models.Array, error) {
	if err := s.check(key); err != nil {
		return models.Array{}, err
	}
	if vec := s.vector(key); vec != nil {
		if *vec == nil {
			return models.Array{}, &MissingKeyError{Key: key, Source: s.Source}
		}
		return models.Vector(append([]float64(nil), *vec...)), nil
	}
	if scalar := s.scalar(key); scalar != nil {
		if *scalar == nil {
			return models.Array{}, &MissingKeyError{Key: key, Source: s.Source}
		}
		return models.Scalar(**scalar), nil
	}
	return models.Array{}, fmt.Errorf("unknown sidecar key %q", string(key))
}

// MultibandFactor returns the multiband acceleration factor. Whole numbers
// written with a fraction (3.0) are accepted.
func (s *Sidecar) MultibandFactor() (int, error) {
	a, err := s.Array(MultibandAccelerationFactor)
	if err != nil {
		return 0, err
	}
	v := a.Data[0]
	if v < 1 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, &InvalidValueError{
			Key:    MultibandAccelerationFactor,
			Source: s.Source,
			Reason: fmt.Sprintf("%v is not a positive whole number", v),
		}
	}
	return int(v), nil
}

// Timing returns the per-slice acquisition times.
func (s *Sidecar) Timing() ([]float64, error) {
	a, err := s.Array(SliceTiming)
	if err != nil {
		return nil, err
	}
	return a.Data, nil
}
