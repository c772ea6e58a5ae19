package cloudip

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/hullside/cutover/pkg/retry"
)

type apiError struct{ code string }

func (e *apiError) Error() string                { return e.code }
func (e *apiError) ErrorCode() string            { return e.code }
func (e *apiError) ErrorMessage() string         { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type fakeEC2 struct {
	eni       ec2types.NetworkInterface
	addresses []ec2types.Address

	allocErr error

	assigned      int
	allocated     int
	associated    int
	disassociated int
	released      int
	unassigned    int
}

func (f *fakeEC2) DescribeNetworkInterfaces(ctx context.Context, in *ec2.DescribeNetworkInterfacesInput, opts ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error) {
	return &ec2.DescribeNetworkInterfacesOutput{
		NetworkInterfaces: []ec2types.NetworkInterface{f.eni},
	}, nil
}

func (f *fakeEC2) AssignPrivateIpAddresses(ctx context.Context, in *ec2.AssignPrivateIpAddressesInput, opts ...func(*ec2.Options)) (*ec2.AssignPrivateIpAddressesOutput, error) {
	f.assigned++
	f.eni.PrivateIpAddresses = append(f.eni.PrivateIpAddresses, ec2types.NetworkInterfacePrivateIpAddress{
		Primary:          aws.Bool(false),
		PrivateIpAddress: aws.String("10.0.0.50"),
	})
	return &ec2.AssignPrivateIpAddressesOutput{
		AssignedPrivateIpAddresses: []ec2types.AssignedPrivateIpAddress{
			{PrivateIpAddress: aws.String("10.0.0.50")},
		},
	}, nil
}

func (f *fakeEC2) UnassignPrivateIpAddresses(ctx context.Context, in *ec2.UnassignPrivateIpAddressesInput, opts ...func(*ec2.Options)) (*ec2.UnassignPrivateIpAddressesOutput, error) {
	f.unassigned++
	return &ec2.UnassignPrivateIpAddressesOutput{}, nil
}

func (f *fakeEC2) DescribeAddresses(ctx context.Context, in *ec2.DescribeAddressesInput, opts ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
	return &ec2.DescribeAddressesOutput{Addresses: f.addresses}, nil
}

func (f *fakeEC2) AllocateAddress(ctx context.Context, in *ec2.AllocateAddressInput, opts ...func(*ec2.Options)) (*ec2.AllocateAddressOutput, error) {
	if f.allocErr != nil {
		return nil, f.allocErr
	}
	f.allocated++
	return &ec2.AllocateAddressOutput{
		AllocationId: aws.String("eipalloc-new"),
		PublicIp:     aws.String("52.0.0.99"),
	}, nil
}

func (f *fakeEC2) AssociateAddress(ctx context.Context, in *ec2.AssociateAddressInput, opts ...func(*ec2.Options)) (*ec2.AssociateAddressOutput, error) {
	f.associated++
	for i := range f.addresses {
		if aws.ToString(f.addresses[i].AllocationId) == aws.ToString(in.AllocationId) {
			f.addresses[i].AssociationId = aws.String("eipassoc-1")
			f.addresses[i].PrivateIpAddress = in.PrivateIpAddress
			f.addresses[i].NetworkInterfaceId = in.NetworkInterfaceId
		}
	}
	return &ec2.AssociateAddressOutput{AssociationId: aws.String("eipassoc-1")}, nil
}

func (f *fakeEC2) DisassociateAddress(ctx context.Context, in *ec2.DisassociateAddressInput, opts ...func(*ec2.Options)) (*ec2.DisassociateAddressOutput, error) {
	f.disassociated++
	return &ec2.DisassociateAddressOutput{}, nil
}

func (f *fakeEC2) ReleaseAddress(ctx context.Context, in *ec2.ReleaseAddressInput, opts ...func(*ec2.Options)) (*ec2.ReleaseAddressOutput, error) {
	f.released++
	return &ec2.ReleaseAddressOutput{}, nil
}

func bareENI() ec2types.NetworkInterface {
	return ec2types.NetworkInterface{
		NetworkInterfaceId: aws.String("eni-1"),
		PrivateIpAddresses: []ec2types.NetworkInterfacePrivateIpAddress{
			{Primary: aws.Bool(true), PrivateIpAddress: aws.String("10.0.0.10")},
		},
	}
}

func newTestManager(api EC2API) *Manager {
	m := NewManager(api)
	m.backoff = retry.Fixed(2, 0)
	return m
}

func TestSetupFromScratch(t *testing.T) {
	fake := &fakeEC2{eni: bareENI()}
	m := newTestManager(fake)

	binding, err := m.Setup(context.Background(), "i-abc")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if binding.PrivateIP != "10.0.0.50" {
		t.Errorf("expected private IP 10.0.0.50, got %s", binding.PrivateIP)
	}
	if binding.PublicIP != "52.0.0.99" {
		t.Errorf("expected public IP 52.0.0.99, got %s", binding.PublicIP)
	}
	if binding.Reused {
		t.Error("fresh allocation should not be marked reused")
	}
	if fake.assigned != 1 || fake.allocated != 1 || fake.associated != 1 {
		t.Errorf("expected one assign/allocate/associate, got %d/%d/%d",
			fake.assigned, fake.allocated, fake.associated)
	}
}

func TestSetupIsIdempotent(t *testing.T) {
	fake := &fakeEC2{eni: bareENI()}
	m := newTestManager(fake)

	first, err := m.Setup(context.Background(), "i-abc")
	if err != nil {
		t.Fatalf("first Setup failed: %v", err)
	}

	// AssociateAddress mutated the fake's address book only if the
	// allocation was recorded there, so mirror what AWS would report.
	fake.addresses = []ec2types.Address{{
		AllocationId:       aws.String("eipalloc-new"),
		PublicIp:           aws.String("52.0.0.99"),
		AssociationId:      aws.String("eipassoc-1"),
		PrivateIpAddress:   aws.String(first.PrivateIP),
		NetworkInterfaceId: aws.String(first.InterfaceID),
	}}

	second, err := m.Setup(context.Background(), "i-abc")
	if err != nil {
		t.Fatalf("second Setup failed: %v", err)
	}
	if !second.Reused {
		t.Error("second run should reuse the existing binding")
	}
	if second.PrivateIP != first.PrivateIP || second.PublicIP != first.PublicIP {
		t.Errorf("second run changed the binding: %+v vs %+v", second, first)
	}
	if fake.assigned != 1 || fake.allocated != 1 {
		t.Errorf("second run allocated new resources: assigned=%d allocated=%d",
			fake.assigned, fake.allocated)
	}
	if fake.associated != 1 {
		t.Errorf("second run re-associated: %d", fake.associated)
	}
}

func TestSetupReusesIdleAddress(t *testing.T) {
	fake := &fakeEC2{
		eni: bareENI(),
		addresses: []ec2types.Address{{
			AllocationId: aws.String("eipalloc-idle"),
			PublicIp:     aws.String("52.0.0.7"),
			// no AssociationId: idle
		}},
	}
	m := newTestManager(fake)

	binding, err := m.Setup(context.Background(), "i-abc")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if !binding.Reused {
		t.Error("idle address reuse should be marked reused")
	}
	if binding.PublicIP != "52.0.0.7" {
		t.Errorf("expected idle address 52.0.0.7, got %s", binding.PublicIP)
	}
	if fake.allocated != 0 {
		t.Errorf("allocated a new address despite an idle one: %d", fake.allocated)
	}
	if fake.associated != 1 {
		t.Errorf("expected one association, got %d", fake.associated)
	}
}

func TestSetupQuotaExceeded(t *testing.T) {
	fake := &fakeEC2{
		eni:      bareENI(),
		allocErr: &apiError{code: "AddressLimitExceeded"},
	}
	m := newTestManager(fake)

	_, err := m.Setup(context.Background(), "i-abc")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestTeardown(t *testing.T) {
	eni := bareENI()
	eni.PrivateIpAddresses = append(eni.PrivateIpAddresses, ec2types.NetworkInterfacePrivateIpAddress{
		Primary:          aws.Bool(false),
		PrivateIpAddress: aws.String("10.0.0.50"),
	})
	fake := &fakeEC2{
		eni: eni,
		addresses: []ec2types.Address{{
			AllocationId:     aws.String("eipalloc-1"),
			AssociationId:    aws.String("eipassoc-1"),
			PublicIp:         aws.String("52.0.0.99"),
			PrivateIpAddress: aws.String("10.0.0.50"),
		}},
	}
	m := newTestManager(fake)

	if err := m.Teardown(context.Background(), "i-abc", true); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if fake.disassociated != 1 || fake.released != 1 || fake.unassigned != 1 {
		t.Errorf("expected disassociate/release/unassign once each, got %d/%d/%d",
			fake.disassociated, fake.released, fake.unassigned)
	}
}

func TestTeardownNothingConfigured(t *testing.T) {
	fake := &fakeEC2{eni: bareENI()}
	m := newTestManager(fake)

	if err := m.Teardown(context.Background(), "i-abc", true); err != nil {
		t.Fatalf("Teardown on a bare node failed: %v", err)
	}
	if fake.disassociated+fake.released+fake.unassigned != 0 {
		t.Error("teardown touched resources on a bare node")
	}
}
