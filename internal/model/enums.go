package model

type PairingAction string

const (
	PairingActionCreate      PairingAction = "create"
	PairingActionConnect     PairingAction = "connect"
	PairingActionCredentials PairingAction = "credentials"
)
