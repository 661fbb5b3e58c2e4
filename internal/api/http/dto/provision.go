package dto

type ProvisionRequest struct {
	Token      string  `json:"token"`
	SSID       string  `json:"ssid"`
	Password   string  `json:"password"`
	DeviceName *string `json:"device_name"`
}

type ProvisionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type ProvisionStatusResponse struct {
	OK          bool `json:"ok"`
	Provisioned bool `json:"provisioned"`
}

type DeviceHealthResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}
