package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RegistryABI is the interface of the deployed CertificateRegistry contract.
// It must not change: topic positions of CertificateIssued are relied upon.
const RegistryABI = `[
  {"inputs":[{"internalType":"uint256","name":"_registrationFee","type":"uint256"},{"internalType":"uint256","name":"_certificateIssuanceFee","type":"uint256"}],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"certificateId","type":"uint256"},{"indexed":true,"internalType":"address","name":"issuer","type":"address"},{"indexed":false,"internalType":"string","name":"certificateHash","type":"string"},{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"CertificateIssued","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint256","name":"certificateId","type":"uint256"},{"indexed":true,"internalType":"address","name":"issuer","type":"address"},{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"CertificateRevoked","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"address","name":"entity","type":"address"},{"indexed":false,"internalType":"string","name":"name","type":"string"},{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"EntityRegistered","type":"event"},
  {"inputs":[{"internalType":"string","name":"_name","type":"string"}],"name":"registerEntity","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[{"internalType":"string","name":"_certificateHash","type":"string"},{"internalType":"string","name":"_metadata","type":"string"}],"name":"issueCertificate","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"payable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_certificateId","type":"uint256"}],"name":"revokeCertificate","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"_certificateId","type":"uint256"}],"name":"verifyCertificate","outputs":[{"internalType":"uint256","name":"id","type":"uint256"},{"internalType":"string","name":"certificateHash","type":"string"},{"internalType":"address","name":"issuer","type":"address"},{"internalType":"uint256","name":"issuedAt","type":"uint256"},{"internalType":"bool","name":"isRevoked","type":"bool"},{"internalType":"string","name":"metadata","type":"string"},{"internalType":"string","name":"issuerName","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"_entity","type":"address"}],"name":"getEntityCertificates","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"_entity","type":"address"}],"name":"getEntityInfo","outputs":[{"internalType":"address","name":"entityAddress","type":"address"},{"internalType":"string","name":"name","type":"string"},{"internalType":"bool","name":"isActive","type":"bool"},{"internalType":"uint256","name":"registeredAt","type":"uint256"},{"internalType":"uint256","name":"certCount","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"registrationFee","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"certificateIssuanceFee","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"isRegisteredEntity","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

// Contract method and event names.
const (
	MethodRegisterEntity        = "registerEntity"
	MethodIssueCertificate      = "issueCertificate"
	MethodRevokeCertificate     = "revokeCertificate"
	MethodVerifyCertificate     = "verifyCertificate"
	MethodGetEntityInfo         = "getEntityInfo"
	MethodGetEntityCertificates = "getEntityCertificates"
	MethodRegistrationFee       = "registrationFee"
	MethodIssuanceFee           = "certificateIssuanceFee"
	MethodIsRegisteredEntity    = "isRegisteredEntity"

	EventEntityRegistered   = "EntityRegistered"
	EventCertificateIssued  = "CertificateIssued"
	EventCertificateRevoked = "CertificateRevoked"
)

// ParseABI parses RegistryABI.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(RegistryABI))
}
