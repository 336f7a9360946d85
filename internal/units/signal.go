package units

// Signal strengths outside this range are clamped. -30 dBm is a tag held
// against the receiver; below -100 dBm advertisements are rarely decoded.
const (
	NearDBM = -30
	FarDBM  = -100
)

// DBMToProximity maps an RSSI sample to [0,1], 1 being closest. The mapping
// is linear in dBm and makes no claim about physical distance.
func DBMToProximity(rssi int) float64 {
	switch {
	case rssi >= NearDBM:
		return 1
	case rssi <= FarDBM:
		return 0
	}
	return float64(rssi-FarDBM) / float64(NearDBM-FarDBM)
}
