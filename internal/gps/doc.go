// Package gps reads a GNSS receiver and turns its reports into geolocation
// fixes for the fusion engine.
//
// Two ingest paths are supported:
//   - NMEA 0183 over a USB serial port (RMC for position, speed and course; GGA
//     for quality and satellites)
//   - gpsd JSON reports over TCP (TPV and SKY)
//
// Only fixes with a position are delivered. Speed is always m/s.
package gps
