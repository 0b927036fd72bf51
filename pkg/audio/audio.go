// Copyright 2025 VeloxVoIP
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package audio converts between byte counts and playback time for the
// 8 kHz, 1 byte per sample G.711 encoding used on the telephony leg.
package audio

const (
	SampleRate     = 8000
	BytesPerSample = 1
	BytesPerSecond = SampleRate * BytesPerSample

	// FrameMillis is the packetization interval of the telephony leg.
	FrameMillis = 20
	FrameBytes  = BytesPerSecond * FrameMillis / 1000
)

// BytesToMillis returns floor(bytes * 1000 / BytesPerSecond).
// Negative input yields 0.
func BytesToMillis(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	return bytes * 1000 / BytesPerSecond
}

// MillisToBytes is the inverse of BytesToMillis for whole milliseconds.
func MillisToBytes(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return ms * BytesPerSecond / 1000
}

// PlayedMillis is how far into the current assistant response the caller has
// heard, measured on the telephony media clock. It is 0 until the response
// start timestamp has been captured.
func PlayedMillis(latestMediaTimestamp, responseStartTimestamp int64, startSet bool) int64 {
	if !startSet {
		return 0
	}
	d := latestMediaTimestamp - responseStartTimestamp
	if d < 0 {
		return 0
	}
	return d
}
