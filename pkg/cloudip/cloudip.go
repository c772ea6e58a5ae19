package cloudip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/log"
	"github.com/hullside/cutover/pkg/retry"
	"github.com/hullside/cutover/pkg/types"
)

// ErrQuotaExceeded means the account is at its elastic IP limit. This
// is a hard AWS limit, never retried; the message carries remediation.
var ErrQuotaExceeded = errors.New(
	"elastic IP address limit reached: release unused addresses " +
		"(aws ec2 release-address) or request a quota increase for EC2-VPC Elastic IPs")

// EC2API is the EC2 surface the manager touches, narrowed so tests can
// fake it.
type EC2API interface {
	DescribeNetworkInterfaces(ctx context.Context, in *ec2.DescribeNetworkInterfacesInput, opts ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
	AssignPrivateIpAddresses(ctx context.Context, in *ec2.AssignPrivateIpAddressesInput, opts ...func(*ec2.Options)) (*ec2.AssignPrivateIpAddressesOutput, error)
	UnassignPrivateIpAddresses(ctx context.Context, in *ec2.UnassignPrivateIpAddressesInput, opts ...func(*ec2.Options)) (*ec2.UnassignPrivateIpAddressesOutput, error)
	DescribeAddresses(ctx context.Context, in *ec2.DescribeAddressesInput, opts ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	AllocateAddress(ctx context.Context, in *ec2.AllocateAddressInput, opts ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error)
	AssociateAddress(ctx context.Context, in *ec2.AssociateAddressInput, opts ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error)
	DisassociateAddress(ctx context.Context, in *ec2.DisassociateAddressInput, opts ...func(*ec2.Options)) (*ec2.DisassociateAddressOutput, error)
	ReleaseAddress(ctx context.Context, in *ec2.ReleaseAddressInput, opts ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error)
}

// Manager allocates and associates the secondary private/elastic IP
// pair one node needs to expose two services on port 443. Every step is
// idempotent: re-running after a partial failure detects existing
// resources and skips re-allocation.
type Manager struct {
	api     EC2API
	logger  zerolog.Logger
	backoff retry.Policy
}

// NewManager wraps an EC2 client.
func NewManager(api EC2API) *Manager {
	return &Manager{
		api:     api,
		logger:  log.WithComponent("cloudip"),
		backoff: retry.Exponential(5, time.Second, 8*time.Second),
	}
}

// NewFromRegion builds a manager with the default AWS credential chain.
func NewFromRegion(ctx context.Context, region string) (*Manager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewManager(ec2.NewFromConfig(cfg)), nil
}

// Setup ensures the instance's primary network interface carries a
// secondary private IP with an associated elastic IP, in strict order:
// private IP first, then elastic IP, then association. Reversing that
// order is how dangling cloud resources happen.
func (m *Manager) Setup(ctx context.Context, instanceID string) (types.SecondaryBinding, error) {
	eni, err := m.primaryInterface(ctx, instanceID)
	if err != nil {
		return types.SecondaryBinding{}, err
	}

	binding := types.SecondaryBinding{InterfaceID: aws.ToString(eni.NetworkInterfaceId)}

	binding.PrivateIP, err = m.ensureSecondaryPrivateIP(ctx, eni)
	if err != nil {
		return binding, err
	}

	addr, reused, err := m.ensureAddress(ctx, binding.InterfaceID, binding.PrivateIP)
	if err != nil {
		return binding, err
	}
	binding.PublicIP = aws.ToString(addr.PublicIp)
	binding.AllocationID = aws.ToString(addr.AllocationId)
	binding.Reused = reused

	if err := m.ensureAssociation(ctx, addr, binding); err != nil {
		return binding, err
	}

	m.logger.Info().
		Str("private_ip", binding.PrivateIP).
		Str("public_ip", binding.PublicIP).
		Bool("reused", binding.Reused).
		Msg("secondary IP binding ready")
	return binding, nil
}

// Current reports the existing secondary binding without changing
// anything. ok is false when no secondary private IP is assigned.
func (m *Manager) Current(ctx context.Context, instanceID string) (types.SecondaryBinding, bool, error) {
	eni, err := m.primaryInterface(ctx, instanceID)
	if err != nil {
		return types.SecondaryBinding{}, false, err
	}

	secondary := findSecondaryIP(eni)
	if secondary == "" {
		return types.SecondaryBinding{}, false, nil
	}

	binding := types.SecondaryBinding{
		InterfaceID: aws.ToString(eni.NetworkInterfaceId),
		PrivateIP:   secondary,
		Reused:      true,
	}
	addr, err := m.addressForPrivateIP(ctx, secondary)
	if err != nil {
		return binding, true, err
	}
	if addr != nil {
		binding.PublicIP = aws.ToString(addr.PublicIp)
		binding.AllocationID = aws.ToString(addr.AllocationId)
	}
	return binding, true, nil
}

// Teardown reverses Setup: disassociate, optionally release the elastic
// IP, and unassign the secondary private IP. Missing pieces are skipped.
func (m *Manager) Teardown(ctx context.Context, instanceID string, releaseAddress bool) error {
	eni, err := m.primaryInterface(ctx, instanceID)
	if err != nil {
		return err
	}

	secondary := findSecondaryIP(eni)
	if secondary == "" {
		m.logger.Info().Msg("no secondary private IP present, nothing to tear down")
		return nil
	}

	addr, err := m.addressForPrivateIP(ctx, secondary)
	if err != nil {
		return err
	}
	if addr != nil && addr.AssociationId != nil {
		if _, err := m.api.DisassociateAddress(ctx, &ec2.DisassociateAddressInput{
			AssociationId: addr.AssociationId,
		}); err != nil {
			return fmt.Errorf("failed to disassociate elastic IP: %w", err)
		}
	}
	if addr != nil && releaseAddress {
		if _, err := m.api.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
			AllocationId: addr.AllocationId,
		}); err != nil {
			return fmt.Errorf("failed to release elastic IP: %w", err)
		}
	}

	if _, err := m.api.UnassignPrivateIpAddresses(ctx, &ec2.UnassignPrivateIpAddressesInput{
		NetworkInterfaceId: eni.NetworkInterfaceId,
		PrivateIpAddresses: []string{secondary},
	}); err != nil {
		return fmt.Errorf("failed to unassign secondary private IP: %w", err)
	}

	m.logger.Info().Str("private_ip", secondary).Msg("secondary IP binding torn down")
	return nil
}

// primaryInterface finds the instance's device-index-0 interface.
func (m *Manager) primaryInterface(ctx context.Context, instanceID string) (*ec2types.NetworkInterface, error) {
	out, err := m.api.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("attachment.instance-id"), Values: []string{instanceID}},
			{Name: aws.String("attachment.device-index"), Values: []string{"0"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe network interfaces for %s: %w", instanceID, err)
	}
	if len(out.NetworkInterfaces) == 0 {
		return nil, fmt.Errorf("no primary network interface found for %s", instanceID)
	}
	return &out.NetworkInterfaces[0], nil
}

// ensureSecondaryPrivateIP returns the existing secondary private IP or
// asks AWS to auto-assign one. Auto-assignment avoids racing other
// allocations for a free address in the subnet.
func (m *Manager) ensureSecondaryPrivateIP(ctx context.Context, eni *ec2types.NetworkInterface) (string, error) {
	if ip := findSecondaryIP(eni); ip != "" {
		m.logger.Info().Str("private_ip", ip).Msg("secondary private IP already assigned")
		return ip, nil
	}

	out, err := m.api.AssignPrivateIpAddresses(ctx, &ec2.AssignPrivateIpAddressesInput{
		NetworkInterfaceId:             eni.NetworkInterfaceId,
		SecondaryPrivateIpAddressCount: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("failed to assign secondary private IP: %w", err)
	}
	if len(out.AssignedPrivateIpAddresses) == 0 {
		return "", fmt.Errorf("AWS assigned no secondary private IP")
	}

	ip := aws.ToString(out.AssignedPrivateIpAddresses[0].PrivateIpAddress)
	m.logger.Info().Str("private_ip", ip).Msg("assigned secondary private IP")
	return ip, nil
}

// ensureAddress returns the elastic IP to bind: the one already
// associated with this private IP if any, otherwise an idle address in
// the account, otherwise a fresh allocation. Quota exhaustion is fatal.
func (m *Manager) ensureAddress(ctx context.Context, eniID, privateIP string) (*ec2types.Address, bool, error) {
	out, err := m.api.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, false, fmt.Errorf("failed to describe addresses: %w", err)
	}

	var idle *ec2types.Address
	for i := range out.Addresses {
		addr := &out.Addresses[i]
		if aws.ToString(addr.PrivateIpAddress) == privateIP &&
			aws.ToString(addr.NetworkInterfaceId) == eniID {
			m.logger.Info().Str("public_ip", aws.ToString(addr.PublicIp)).
				Msg("elastic IP already associated with secondary private IP")
			return addr, true, nil
		}
		if addr.AssociationId == nil && idle == nil {
			idle = addr
		}
	}

	if idle != nil {
		m.logger.Info().Str("public_ip", aws.ToString(idle.PublicIp)).
			Msg("reusing idle elastic IP")
		return idle, true, nil
	}

	alloc, err := m.api.AllocateAddress(ctx, &ec2.AllocateAddressInput{
		Domain: ec2types.DomainTypeVpc,
	})
	if err != nil {
		if isQuotaError(err) {
			return nil, false, ErrQuotaExceeded
		}
		return nil, false, fmt.Errorf("failed to allocate elastic IP: %w", err)
	}

	m.logger.Info().Str("public_ip", aws.ToString(alloc.PublicIp)).Msg("allocated elastic IP")
	return &ec2types.Address{
		AllocationId: alloc.AllocationId,
		PublicIp:     alloc.PublicIp,
	}, false, nil
}

// ensureAssociation binds the address to the secondary private IP.
// Transient failures (the allocation not yet visible to the associate
// call) are retried with backoff; anything marked fatal is not.
func (m *Manager) ensureAssociation(ctx context.Context, addr *ec2types.Address, binding types.SecondaryBinding) error {
	if aws.ToString(addr.PrivateIpAddress) == binding.PrivateIP &&
		aws.ToString(addr.NetworkInterfaceId) == binding.InterfaceID {
		return nil // already associated
	}

	return m.backoff.Do(ctx, func(ctx context.Context) error {
		_, err := m.api.AssociateAddress(ctx, &ec2.AssociateAddressInput{
			AllocationId:       addr.AllocationId,
			NetworkInterfaceId: aws.String(binding.InterfaceID),
			PrivateIpAddress:   aws.String(binding.PrivateIP),
			AllowReassociation: aws.Bool(false),
		})
		if err != nil {
			if isQuotaError(err) {
				return retry.Stop(ErrQuotaExceeded)
			}
			return fmt.Errorf("failed to associate elastic IP: %w", err)
		}
		return nil
	})
}

func (m *Manager) addressForPrivateIP(ctx context.Context, privateIP string) (*ec2types.Address, error) {
	out, err := m.api.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe addresses: %w", err)
	}
	for i := range out.Addresses {
		if aws.ToString(out.Addresses[i].PrivateIpAddress) == privateIP {
			return &out.Addresses[i], nil
		}
	}
	return nil, nil
}

func findSecondaryIP(eni *ec2types.NetworkInterface) string {
	for _, pip := range eni.PrivateIpAddresses {
		if !aws.ToBool(pip.Primary) {
			return aws.ToString(pip.PrivateIpAddress)
		}
	}
	return ""
}

func isQuotaError(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "AddressLimitExceeded"
}
