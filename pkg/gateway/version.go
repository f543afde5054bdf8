package gateway

const Version = "0.1.0"
