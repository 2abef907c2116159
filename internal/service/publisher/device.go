package publisher

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

type DeviceUUIDs struct {
	PhoneID         string `json:"phone_id"`
	UUID            string `json:"uuid"`
	ClientSessionID string `json:"client_session_id"`
	AdvertisingID   string `json:"advertising_id"`
	DeviceID        string `json:"device_id"`
}

// DeviceProfile is the device fingerprint presented to the platform at login.
type DeviceProfile struct {
	AppVersion     string      `json:"app_version"`
	AndroidVersion int         `json:"android_version"`
	AndroidRelease string      `json:"android_release"`
	DPI            string      `json:"dpi"`
	Resolution     string      `json:"resolution"`
	Manufacturer   string      `json:"manufacturer"`
	Device         string      `json:"device"`
	Model          string      `json:"model"`
	CPU            string      `json:"cpu"`
	UUIDs          DeviceUUIDs `json:"uuids"`
}

type deviceModel struct {
	manufacturer string
	model        string
	device       string
	cpu          string
}

var deviceModels = []deviceModel{
	{"Samsung", "SM-G991B", "o1s", "exynos2100"},
	{"Google", "Pixel 6", "oriole", "tensor"},
	{"OnePlus", "9 Pro", "lemonadep", "snapdragon888"},
	{"Xiaomi", "Mi 11", "venus", "snapdragon888"},
}

// DeriveDeviceProfile returns the same profile for the same username and salt, forever.
// Changing the salt in production makes every account look like a new device.
func DeriveDeviceProfile(username, salt string) DeviceProfile {
	seedSum := sha256.Sum256([]byte("device_" + username + "_" + salt))
	seed := hex.EncodeToString(seedSum[:])

	seeded := func(prefix string) string {
		sum := md5.Sum([]byte(seed + "_" + prefix))
		id, _ := uuid.FromBytes(sum[:])
		return id.String()
	}

	// md5 as a big-endian integer modulo len(deviceModels); 256 is a multiple of 4
	// so the last byte decides.
	nameSum := md5.Sum([]byte(username))
	dm := deviceModels[int(nameSum[len(nameSum)-1])%len(deviceModels)]

	deviceID := strings.ReplaceAll(seeded("device"), "-", "")[:16]

	return DeviceProfile{
		AppVersion:     "269.0.0.18.75",
		AndroidVersion: 12,
		AndroidRelease: "12",
		DPI:            "420dpi",
		Resolution:     "1080x2340",
		Manufacturer:   dm.manufacturer,
		Device:         dm.device,
		Model:          dm.model,
		CPU:            dm.cpu,
		UUIDs: DeviceUUIDs{
			PhoneID:         seeded("phone"),
			UUID:            seeded("uuid"),
			ClientSessionID: seeded("client"),
			AdvertisingID:   seeded("advertising"),
			DeviceID:        "android-" + deviceID,
		},
	}
}
