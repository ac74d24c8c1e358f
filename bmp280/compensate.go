package bmp280

import "encoding/binary"

// calibration holds the 12 factory trim coefficients read once at Detect.
// Immutable for the lifetime of a powered-on session; replaced wholesale
// only by a later re-detection.
type calibration struct {
	t1                             uint16
	t2, t3                         int16
	p1                             uint16
	p2, p3, p4, p5, p6, p7, p8, p9 int16
}

// newCalibration reinterprets the 24-byte trim block at regCalib. Every
// field is little endian and the order is fixed by the datasheet; any
// deviation corrupts every compensated reading afterwards.
func newCalibration(b []byte) calibration {
	return calibration{
		t1: binary.LittleEndian.Uint16(b[0:2]),
		t2: int16(binary.LittleEndian.Uint16(b[2:4])),
		t3: int16(binary.LittleEndian.Uint16(b[4:6])),
		p1: binary.LittleEndian.Uint16(b[6:8]),
		p2: int16(binary.LittleEndian.Uint16(b[8:10])),
		p3: int16(binary.LittleEndian.Uint16(b[10:12])),
		p4: int16(binary.LittleEndian.Uint16(b[12:14])),
		p5: int16(binary.LittleEndian.Uint16(b[14:16])),
		p6: int16(binary.LittleEndian.Uint16(b[16:18])),
		p7: int16(binary.LittleEndian.Uint16(b[18:20])),
		p8: int16(binary.LittleEndian.Uint16(b[20:22])),
		p9: int16(binary.LittleEndian.Uint16(b[22:24])),
	}
}

// compensateTemperature returns the temperature in degrees Celsius and the
// fine-temperature value consumed by compensatePressure. Output of 51.23
// equals 51.23 DegC. Formula from the datasheet, section 8.1.
func compensateTemperature(adcT int32, cal *calibration) (float64, int32) {
	var1 := (float64(adcT)/16384.0 - float64(cal.t1)/1024.0) * float64(cal.t2)
	var2 := (float64(adcT)/131072.0 - float64(cal.t1)/8192.0) *
		(float64(adcT)/131072.0 - float64(cal.t1)/8192.0) * float64(cal.t3)
	return (var1 + var2) / 5120.0, int32(var1 + var2)
}

// compensatePressure returns the pressure in Pa. Output of 96386.2 equals
// 96386.2 Pa = 963.862 hPa. tFine must come from compensateTemperature
// over the same frame; a stale value skews the result.
//
// Returns 0 when the calibration denominator evaluates to zero, the
// datasheet's divide-by-zero guard.
func compensatePressure(adcP, tFine int32, cal *calibration) float64 {
	var1 := float64(tFine)/2.0 - 64000.0
	var2 := var1 * var1 * float64(cal.p6) / 32768.0
	var2 += var1 * float64(cal.p5) * 2.0
	var2 = var2/4.0 + float64(cal.p4)*65536.0
	var1 = (float64(cal.p3)*var1*var1/524288.0 + float64(cal.p2)*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * float64(cal.p1)
	if var1 == 0 {
		return 0
	}

	p := 1048576.0 - float64(adcP)
	p = (p - var2/4096.0) * 6250.0 / var1
	var1 = float64(cal.p9) * p * p / 2147483648.0
	var2 = p * float64(cal.p8) / 32768.0
	return p + (var1+var2+float64(cal.p7))/16.0
}
