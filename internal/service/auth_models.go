package service

type DeviceInfo struct {
	DeviceID   string
	DeviceName string
	IPAddress  *string
	UserAgent  *string
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

type LoginInput struct {
	Email    string
	Password string
	Device   DeviceInfo
}

type LoginMFAInput struct {
	Email    string
	Password string
	Code     string
	Device   DeviceInfo
}

type RefreshInput struct {
	RefreshToken string
	Device       DeviceInfo
}

type LoginResult struct {
	AccessToken      string
	ExpiresIn        int64
	RefreshToken     string
	RefreshExpiresIn int64
	MFARequired      bool
	MFACodeExpiresIn int64
}
